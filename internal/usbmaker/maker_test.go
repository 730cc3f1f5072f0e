package usbmaker

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/larsks/mkwinusb/internal/diskutil"
)

type fakeDisks struct {
	infos     map[string]*diskutil.DiskInfo
	bootDisk  string
	listing   string
	listCalls int
	infoCalls int
	unmounted []string
	erased    []string
	labels    []string
	forced    []string
	mounted   [][2]string
	ejected   []string
	ejectErr  error
}

func (f *fakeDisks) List() (string, error) {
	f.listCalls++
	return f.listing, nil
}

func (f *fakeDisks) Info(target string) (*diskutil.DiskInfo, error) {
	f.infoCalls++
	info, ok := f.infos[target]
	if !ok {
		return nil, fmt.Errorf("no such disk: %s", target)
	}
	return info, nil
}

func (f *fakeDisks) BootDisk() (string, error) { return f.bootDisk, nil }

func (f *fakeDisks) UnmountDisk(disk string) error {
	f.unmounted = append(f.unmounted, disk)
	return nil
}

func (f *fakeDisks) Erase(disk, label string) error {
	f.erased = append(f.erased, disk)
	f.labels = append(f.labels, label)
	return nil
}

func (f *fakeDisks) UnmountForce(volume string) error {
	f.forced = append(f.forced, volume)
	return nil
}

func (f *fakeDisks) MountFAT(device, dir string) error {
	f.mounted = append(f.mounted, [2]string{device, dir})
	return nil
}

func (f *fakeDisks) Eject(disk string) error {
	f.ejected = append(f.ejected, disk)
	return f.ejectErr
}

type fakeImages struct {
	mounts      map[string]string
	attachTo    string
	attachCalls int
	detached    []string
	detachErr   error
}

func (f *fakeImages) MountPointOf(imagePath string) (string, error) {
	return f.mounts[imagePath], nil
}

func (f *fakeImages) Attach(imagePath string) (string, error) {
	f.attachCalls++
	if f.attachTo == "" {
		return "", errors.New("attach failed")
	}
	return f.attachTo, nil
}

func (f *fakeImages) Detach(mountPoint string) error {
	f.detached = append(f.detached, mountPoint)
	return f.detachErr
}

type copyCall struct {
	src, dst string
	excludes []string
}

type fakeCopier struct {
	calls []copyCall
}

func (f *fakeCopier) Copy(src, dst string, excludes []string) error {
	f.calls = append(f.calls, copyCall{src: src, dst: dst, excludes: excludes})
	return nil
}

type splitCall struct {
	wimPath string
	destDir string
	sizeMB  int
}

type fakeSplitter struct {
	available     bool
	installCalled bool
	calls         []splitCall
}

func (f *fakeSplitter) Available() bool { return f.available }

func (f *fakeSplitter) Install() error {
	f.installCalled = true
	f.available = true
	return nil
}

func (f *fakeSplitter) Split(wimPath, destDir string, sizeMB int) error {
	f.calls = append(f.calls, splitCall{wimPath: wimPath, destDir: destDir, sizeMB: sizeMB})
	return nil
}

type scriptPrompter struct {
	answers []string
	next    int
}

func (p *scriptPrompter) Ask(prompt string) (string, error) {
	if p.next >= len(p.answers) {
		return "", errors.New("no scripted answer left")
	}
	answer := p.answers[p.next]
	p.next++
	return answer, nil
}

func usbDiskInfo(id string) *diskutil.DiskInfo {
	return &diskutil.DiskInfo{
		DeviceIdentifier: id,
		DeviceNode:       "/dev/" + id,
		BusProtocol:      "USB",
		Removable:        true,
		RemovableMedia:   true,
		TotalSize:        30752636928,
	}
}

// writeTestISO creates a minimal file that passes ISO9660 validation.
func writeTestISO(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "windows.iso")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := f.Truncate(40960); err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt([]byte("CD001"), 32769); err != nil {
		t.Fatal(err)
	}
	return path
}

// writeMountDir builds a fake mounted-ISO tree holding the named payload of
// the given size (sparse, so huge payloads cost nothing).
func writeMountDir(t *testing.T, payloadName string, payloadSize int64) string {
	t.Helper()

	mount := t.TempDir()
	if err := os.Mkdir(filepath.Join(mount, "sources"), 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(mount, "sources", payloadName)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := f.Truncate(payloadSize); err != nil {
		t.Fatal(err)
	}
	return mount
}

type testEnv struct {
	maker    *Maker
	disks    *fakeDisks
	images   *fakeImages
	copier   *fakeCopier
	splitter *fakeSplitter
	volume   string
	syncs    int
}

func newTestEnv(t *testing.T, cfg Config, disks *fakeDisks, images *fakeImages, prompter Prompter) *testEnv {
	t.Helper()

	env := &testEnv{
		disks:    disks,
		images:   images,
		copier:   &fakeCopier{},
		splitter: &fakeSplitter{available: true},
	}

	volumesRoot := t.TempDir()
	env.volume = filepath.Join(volumesRoot, cfg.VolumeName)
	if err := os.Mkdir(env.volume, 0o755); err != nil {
		t.Fatal(err)
	}

	env.maker = NewMaker(cfg, disks, images, env.copier, env.splitter, prompter, log.New(io.Discard, "", 0))
	env.maker.out = io.Discard
	env.maker.volumesRoot = volumesRoot
	env.maker.settleDelay = 0
	env.maker.syncFn = func() error {
		env.syncs++
		return nil
	}
	return env
}

func TestRunStopsOnInvalidISO(t *testing.T) {
	disks := &fakeDisks{bootDisk: "disk0"}
	cfg := Config{ISOPath: filepath.Join(t.TempDir(), "missing.iso"), DiskID: "disk2", VolumeName: "WINDOWSUSB", SplitSizeMB: 3800}
	env := newTestEnv(t, cfg, disks, &fakeImages{}, &scriptPrompter{})

	if err := env.maker.Run(); err == nil {
		t.Fatal("Run() expected an error for a missing ISO")
	}
	if disks.infoCalls != 0 || len(disks.erased) != 0 {
		t.Errorf("disk service was touched before ISO validation: %+v", disks)
	}
}

func TestRunRejectsUnsafeDisks(t *testing.T) {
	tests := []struct {
		name string
		info *diskutil.DiskInfo
		boot string
	}{
		{
			name: "internal SATA disk",
			info: &diskutil.DiskInfo{DeviceIdentifier: "disk2", BusProtocol: "SATA", Internal: true},
			boot: "disk0",
		},
		{
			name: "boot disk",
			info: usbDiskInfo("disk2"),
			boot: "disk2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			disks := &fakeDisks{
				infos:    map[string]*diskutil.DiskInfo{"disk2": tt.info},
				bootDisk: tt.boot,
			}
			cfg := Config{ISOPath: writeTestISO(t), DiskID: "disk2", VolumeName: "WINDOWSUSB", SplitSizeMB: 3800}
			env := newTestEnv(t, cfg, disks, &fakeImages{}, &scriptPrompter{answers: []string{"ERASE"}})

			if err := env.maker.Run(); err == nil {
				t.Fatal("Run() expected a safety-gate error")
			}
			if len(disks.unmounted) != 0 || len(disks.erased) != 0 || len(disks.ejected) != 0 {
				t.Errorf("rejected disk was still touched: %+v", disks)
			}
		})
	}
}

func TestRunAbortsOnConfirmationMismatch(t *testing.T) {
	for _, answer := range []string{"erase", "Erase", "yes", ""} {
		t.Run(fmt.Sprintf("answer %q", answer), func(t *testing.T) {
			disks := &fakeDisks{
				infos:    map[string]*diskutil.DiskInfo{"disk2": usbDiskInfo("disk2")},
				bootDisk: "disk0",
			}
			cfg := Config{ISOPath: writeTestISO(t), DiskID: "disk2", VolumeName: "WINDOWSUSB", SplitSizeMB: 3800}
			env := newTestEnv(t, cfg, disks, &fakeImages{}, &scriptPrompter{answers: []string{answer}})

			if err := env.maker.Run(); err == nil {
				t.Fatal("Run() expected an abort for a confirmation mismatch")
			}
			if len(disks.erased) != 0 {
				t.Errorf("disk was erased despite confirmation %q", answer)
			}
		})
	}
}

func TestRunDirectCopyPath(t *testing.T) {
	iso := writeTestISO(t)
	mount := writeMountDir(t, "install.esd", 1<<20)

	disks := &fakeDisks{
		infos:    map[string]*diskutil.DiskInfo{"disk2": usbDiskInfo("disk2")},
		bootDisk: "disk0",
		ejectErr: errors.New("eject is flaky"),
	}
	images := &fakeImages{attachTo: mount}
	cfg := Config{ISOPath: iso, DiskID: "disk2", VolumeName: "WINDOWSUSB", SplitSizeMB: 3800}
	env := newTestEnv(t, cfg, disks, images, &scriptPrompter{answers: []string{"ERASE"}})

	if err := env.maker.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(disks.erased) != 1 || disks.erased[0] != "disk2" {
		t.Errorf("erased = %v, want [disk2]", disks.erased)
	}
	if len(disks.labels) != 1 || disks.labels[0] != "WINDOWSUSB" {
		t.Errorf("erase labels = %v, want [WINDOWSUSB]", disks.labels)
	}
	if len(env.copier.calls) != 1 {
		t.Fatalf("expected 1 copy call, got %d", len(env.copier.calls))
	}
	call := env.copier.calls[0]
	if call.src != mount || call.dst != env.volume || call.excludes != nil {
		t.Errorf("unexpected copy call: %+v", call)
	}
	if len(env.splitter.calls) != 0 {
		t.Errorf("splitter should not run for install.esd: %+v", env.splitter.calls)
	}
	if env.syncs != 1 {
		t.Errorf("sync calls = %d, want 1", env.syncs)
	}
	if len(images.detached) != 1 || images.detached[0] != mount {
		t.Errorf("detached = %v, want [%s]", images.detached, mount)
	}
	// The eject failure above must not fail the run; it was only logged.
	if len(disks.ejected) != 1 || disks.ejected[0] != "disk2" {
		t.Errorf("ejected = %v, want [disk2]", disks.ejected)
	}
}

func TestRunSplitsOversizedWim(t *testing.T) {
	iso := writeTestISO(t)
	mount := writeMountDir(t, "install.wim", 5<<30)

	disks := &fakeDisks{
		infos:    map[string]*diskutil.DiskInfo{"disk2": usbDiskInfo("disk2")},
		bootDisk: "disk0",
	}
	images := &fakeImages{attachTo: mount}
	cfg := Config{ISOPath: iso, DiskID: "disk2", VolumeName: "WINDOWSUSB", SplitSizeMB: 3800}
	env := newTestEnv(t, cfg, disks, images, &scriptPrompter{answers: []string{"ERASE"}})

	if err := env.maker.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(env.copier.calls) != 1 {
		t.Fatalf("expected 1 copy call, got %d", len(env.copier.calls))
	}
	excludes := env.copier.calls[0].excludes
	if len(excludes) != 1 || excludes[0] != "sources/install.wim" {
		t.Errorf("copy excludes = %v, want [sources/install.wim]", excludes)
	}
	if len(env.splitter.calls) != 1 {
		t.Fatalf("expected 1 split call, got %d", len(env.splitter.calls))
	}
	split := env.splitter.calls[0]
	if split.wimPath != filepath.Join(mount, "sources", "install.wim") {
		t.Errorf("split wimPath = %q", split.wimPath)
	}
	if split.destDir != filepath.Join(env.volume, "sources") {
		t.Errorf("split destDir = %q, want %q", split.destDir, filepath.Join(env.volume, "sources"))
	}
	if split.sizeMB != 3800 {
		t.Errorf("split sizeMB = %d, want 3800", split.sizeMB)
	}
}

func TestRunKeepsWimWholeAtFourGiB(t *testing.T) {
	iso := writeTestISO(t)
	mount := writeMountDir(t, "install.wim", 4<<30)

	disks := &fakeDisks{
		infos:    map[string]*diskutil.DiskInfo{"disk2": usbDiskInfo("disk2")},
		bootDisk: "disk0",
	}
	images := &fakeImages{attachTo: mount}
	cfg := Config{ISOPath: iso, DiskID: "disk2", VolumeName: "WINDOWSUSB", SplitSizeMB: 3800}
	env := newTestEnv(t, cfg, disks, images, &scriptPrompter{answers: []string{"ERASE"}})

	if err := env.maker.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(env.copier.calls) != 1 || env.copier.calls[0].excludes != nil {
		t.Errorf("expected a direct copy with no exclusions, got %+v", env.copier.calls)
	}
	if len(env.splitter.calls) != 0 {
		t.Errorf("4 GiB exactly must not be split: %+v", env.splitter.calls)
	}
}

func TestRunReusesExistingMount(t *testing.T) {
	iso := writeTestISO(t)
	mount := writeMountDir(t, "install.esd", 1<<20)

	disks := &fakeDisks{
		infos:    map[string]*diskutil.DiskInfo{"disk2": usbDiskInfo("disk2")},
		bootDisk: "disk0",
	}
	images := &fakeImages{mounts: map[string]string{iso: mount}}
	cfg := Config{ISOPath: iso, DiskID: "disk2", VolumeName: "WINDOWSUSB", SplitSizeMB: 3800}
	env := newTestEnv(t, cfg, disks, images, &scriptPrompter{answers: []string{"ERASE"}})

	if err := env.maker.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if images.attachCalls != 0 {
		t.Errorf("attach calls = %d, want 0 for an already-attached image", images.attachCalls)
	}
	if len(images.detached) != 0 {
		t.Errorf("a pre-existing mount must be left attached, detached = %v", images.detached)
	}
}

func TestRunPromptsForDiskWhenUnset(t *testing.T) {
	iso := writeTestISO(t)
	mount := writeMountDir(t, "install.esd", 1<<20)

	disks := &fakeDisks{
		infos:    map[string]*diskutil.DiskInfo{"disk2": usbDiskInfo("disk2")},
		bootDisk: "disk0",
		listing:  "/dev/disk0 (internal):\n/dev/disk2 (external, physical):\n",
	}
	images := &fakeImages{attachTo: mount}
	cfg := Config{ISOPath: iso, VolumeName: "WINDOWSUSB", SplitSizeMB: 3800}
	env := newTestEnv(t, cfg, disks, images, &scriptPrompter{answers: []string{"/dev/disk2", "ERASE"}})

	if err := env.maker.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if disks.listCalls != 1 {
		t.Errorf("list calls = %d, want 1", disks.listCalls)
	}
	if len(disks.erased) != 1 || disks.erased[0] != "disk2" {
		t.Errorf("erased = %v, want [disk2]", disks.erased)
	}
}

func TestPrepareDiskRemountsReadOnlyVolume(t *testing.T) {
	disks := &fakeDisks{
		infos:    map[string]*diskutil.DiskInfo{"disk2": usbDiskInfo("disk2")},
		bootDisk: "disk0",
	}
	cfg := Config{ISOPath: "unused.iso", DiskID: "disk2", VolumeName: "WINDOWSUSB", SplitSizeMB: 3800}
	env := newTestEnv(t, cfg, disks, &fakeImages{}, &scriptPrompter{})

	disks.infos[env.volume] = &diskutil.DiskInfo{DeviceNode: "/dev/disk2s2"}
	probes := 0
	env.maker.writableFn = func(volume string) bool {
		probes++
		return probes > 1
	}

	volume, err := env.maker.prepareDisk("disk2")
	if err != nil {
		t.Fatalf("prepareDisk() error = %v", err)
	}
	if volume != env.volume {
		t.Errorf("prepareDisk() = %q, want %q", volume, env.volume)
	}
	if len(disks.forced) != 1 || disks.forced[0] != env.volume {
		t.Errorf("force-unmounts = %v, want [%s]", disks.forced, env.volume)
	}
	if len(disks.mounted) != 1 || disks.mounted[0] != [2]string{"/dev/disk2s2", env.volume} {
		t.Errorf("remounts = %v, want [[/dev/disk2s2 %s]]", disks.mounted, env.volume)
	}
}

func TestPrepareDiskFailsWithoutDeviceNode(t *testing.T) {
	disks := &fakeDisks{
		infos:    map[string]*diskutil.DiskInfo{"disk2": usbDiskInfo("disk2")},
		bootDisk: "disk0",
	}
	cfg := Config{ISOPath: "unused.iso", DiskID: "disk2", VolumeName: "WINDOWSUSB", SplitSizeMB: 3800}
	env := newTestEnv(t, cfg, disks, &fakeImages{}, &scriptPrompter{})

	// No info entry for the volume: the device node cannot be resolved.
	env.maker.writableFn = func(volume string) bool { return false }

	if _, err := env.maker.prepareDisk("disk2"); err == nil {
		t.Fatal("prepareDisk() expected an error when the device node is unknown")
	}
	if len(disks.mounted) != 0 {
		t.Errorf("no remount should happen without a device node: %v", disks.mounted)
	}
}

func TestFinalizeReportsSoftFailures(t *testing.T) {
	disks := &fakeDisks{ejectErr: errors.New("device busy")}
	images := &fakeImages{detachErr: errors.New("still in use")}
	cfg := Config{ISOPath: "unused.iso", DiskID: "disk2", VolumeName: "WINDOWSUSB", SplitSizeMB: 3800}
	env := newTestEnv(t, cfg, disks, images, &scriptPrompter{})

	results := env.maker.finalize("/Volumes/CCCOMA_X64FRE_EN-US_DV9", false, "disk2")

	if len(results) != 3 {
		t.Fatalf("expected 3 cleanup results, got %d", len(results))
	}
	var failures int
	for _, res := range results {
		if res.Err != nil {
			failures++
		}
	}
	if failures != 2 {
		t.Errorf("cleanup failures = %d, want 2 (detach and eject)", failures)
	}
}
