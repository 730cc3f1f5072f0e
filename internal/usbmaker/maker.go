// Package usbmaker drives the pipeline that turns a Windows ISO into a
// bootable USB drive: validate the ISO, gate the target disk, erase it as
// GPT+FAT32, mount the ISO, copy (splitting install.wim when needed), and
// clean up. All OS interaction happens through the service interfaces in
// types.go so the pipeline can be exercised without real disks.
package usbmaker

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/larsks/mkwinusb/internal/diskutil"
	"github.com/larsks/mkwinusb/internal/isoimage"
)

// confirmToken must be typed exactly before any disk is erased.
const confirmToken = "ERASE"

type Maker struct {
	cfg      Config
	disks    DiskService
	images   ImageService
	copier   Copier
	splitter Splitter
	prompter Prompter
	logger   *log.Logger
	out      io.Writer

	volumesRoot string
	settleDelay time.Duration
	writableFn  func(volume string) bool
	syncFn      func() error
}

func NewMaker(cfg Config, disks DiskService, images ImageService, copier Copier, splitter Splitter, prompter Prompter, logger *log.Logger) *Maker {
	return &Maker{
		cfg:         cfg,
		disks:       disks,
		images:      images,
		copier:      copier,
		splitter:    splitter,
		prompter:    prompter,
		logger:      logger,
		out:         os.Stdout,
		volumesRoot: "/Volumes",
		settleDelay: 3 * time.Second,
		writableFn:  writable,
		syncFn:      runSync,
	}
}

// Run executes the whole pipeline. Any failure before the copy completes is
// fatal; finalization failures are only logged.
func (m *Maker) Run() error {
	if err := isoimage.Validate(m.cfg.ISOPath); err != nil {
		return err
	}

	disk, info, err := m.selectDisk()
	if err != nil {
		return err
	}
	if err := m.confirmErase(info); err != nil {
		return err
	}

	volume, err := m.prepareDisk(disk)
	if err != nil {
		return err
	}

	mount, preexisting, err := m.mountImage()
	if err != nil {
		return err
	}

	payload, err := findPayload(mount)
	if err != nil {
		return err
	}

	if err := m.copyTree(mount, volume, payload); err != nil {
		return err
	}

	m.finalize(mount, preexisting, disk)
	m.logger.Printf("done: %s is ready as a bootable Windows installer", volume)
	return nil
}

// selectDisk resolves the target disk (prompting when none was given) and
// applies the safety gate before anything destructive can happen.
func (m *Maker) selectDisk() (string, *diskutil.DiskInfo, error) {
	id := strings.TrimPrefix(m.cfg.DiskID, "/dev/")
	if id == "" {
		listing, err := m.disks.List()
		if err != nil {
			return "", nil, err
		}
		fmt.Fprintln(m.out, listing)
		answer, err := m.prompter.Ask("Enter the target disk identifier (e.g. disk2): ")
		if err != nil {
			return "", nil, fmt.Errorf("failed to read disk selection: %w", err)
		}
		id = strings.TrimPrefix(strings.TrimSpace(answer), "/dev/")
		if id == "" {
			return "", nil, fmt.Errorf("no disk selected")
		}
	}

	info, err := m.disks.Info(id)
	if err != nil {
		return "", nil, err
	}

	bootDisk, err := m.disks.BootDisk()
	if err != nil {
		return "", nil, err
	}

	if err := classifyTarget(id, info, bootDisk); err != nil {
		fmt.Fprint(m.out, describeDisk(info))
		return "", nil, err
	}
	return id, info, nil
}

// confirmErase shows the disk's attributes and requires the exact
// confirmation token. Anything else aborts with no changes made.
func (m *Maker) confirmErase(info *diskutil.DiskInfo) error {
	fmt.Fprintln(m.out, "The following disk will be COMPLETELY ERASED:")
	fmt.Fprint(m.out, describeDisk(info))

	answer, err := m.prompter.Ask(fmt.Sprintf("Type %s (all caps) to continue: ", confirmToken))
	if err != nil {
		return fmt.Errorf("failed to read confirmation: %w", err)
	}
	if answer != confirmToken {
		return fmt.Errorf("aborted: confirmation was %q, not %s; no changes were made", answer, confirmToken)
	}
	return nil
}

// prepareDisk unmounts and erases the disk, then makes sure the fresh FAT32
// volume is mounted read-write. Erase happens exactly once per run.
func (m *Maker) prepareDisk(disk string) (string, error) {
	if err := m.disks.UnmountDisk(disk); err != nil {
		// An already-unmounted disk makes unmountDisk fail; tolerated.
		m.logger.Printf("warning: unmount before erase failed: %v", err)
	}

	if err := m.disks.Erase(disk, m.cfg.VolumeName); err != nil {
		return "", err
	}

	volume := filepath.Join(m.volumesRoot, m.cfg.VolumeName)
	time.Sleep(m.settleDelay)

	if m.writableFn(volume) {
		return volume, nil
	}

	// Freshly erased FAT32 volumes occasionally auto-mount read-only.
	// Force-unmount and remount through the msdos driver.
	m.logger.Printf("%s mounted read-only, remounting read-write", volume)
	info, err := m.disks.Info(volume)
	if err != nil {
		return "", fmt.Errorf("cannot determine the device node of read-only volume %s: %w", volume, err)
	}
	if info.DeviceNode == "" {
		return "", fmt.Errorf("cannot determine the device node of read-only volume %s", volume)
	}
	if err := m.disks.UnmountForce(volume); err != nil {
		return "", err
	}
	if err := os.MkdirAll(volume, 0o755); err != nil {
		return "", fmt.Errorf("failed to recreate mount directory %s: %w", volume, err)
	}
	if err := m.disks.MountFAT(info.DeviceNode, volume); err != nil {
		return "", err
	}
	if !m.writableFn(volume) {
		return "", fmt.Errorf("volume %s is still not writable after remounting", volume)
	}
	return volume, nil
}

func writable(volume string) bool {
	probe := filepath.Join(volume, ".mkwinusb-write-test")
	f, err := os.Create(probe)
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(probe)
	return true
}

// mountImage attaches the ISO, or reuses an existing attachment of the same
// image (attaching the same image twice fails with "resource busy").
func (m *Maker) mountImage() (string, bool, error) {
	mount, err := m.images.MountPointOf(m.cfg.ISOPath)
	if err != nil {
		m.logger.Printf("warning: could not inspect attached images: %v", err)
	}

	preexisting := mount != ""
	if preexisting {
		m.logger.Printf("%s is already attached at %s, reusing it", m.cfg.ISOPath, mount)
	} else {
		mount, err = m.images.Attach(m.cfg.ISOPath)
		if err != nil {
			return "", false, err
		}
		m.logger.Printf("attached %s at %s", m.cfg.ISOPath, mount)
	}

	fi, err := os.Stat(mount)
	if err != nil || !fi.IsDir() {
		return "", false, fmt.Errorf("resolved mount point %s is not a directory", mount)
	}
	return mount, preexisting, nil
}

// copyTree copies the mounted image to the target volume, splitting
// install.wim into .swm parts when it exceeds the FAT32 limit.
func (m *Maker) copyTree(mount, volume string, payload *Payload) error {
	if !payload.NeedsSplit() {
		m.logger.Printf("%s is %d bytes, copying the image tree directly", payload.Name, payload.Size)
		return m.copier.Copy(mount, volume, nil)
	}

	m.logger.Printf("%s is %d bytes, over the FAT32 single-file limit; it will be split into %d MB parts",
		payload.Name, payload.Size, m.cfg.SplitSizeMB)

	if err := m.copier.Copy(mount, volume, []string{"sources/" + payload.Name}); err != nil {
		return err
	}

	if !m.splitter.Available() {
		if err := m.splitter.Install(); err != nil {
			return err
		}
	}

	destDir := filepath.Join(volume, "sources")
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", destDir, err)
	}
	return m.splitter.Split(payload.Path, destDir, m.cfg.SplitSizeMB)
}

// finalize flushes writes, detaches the image, and ejects the disk. Every
// step is best-effort: the USB is already written, so failures here are
// logged without changing the run's outcome. An image that was attached
// before this run is left attached.
func (m *Maker) finalize(mount string, preexisting bool, disk string) []CleanupResult {
	var results []CleanupResult

	results = append(results, CleanupResult{Step: "flush filesystem writes", Err: m.syncFn()})

	if preexisting {
		m.logger.Printf("leaving %s attached (it was attached before this run)", mount)
	} else {
		results = append(results, CleanupResult{Step: "detach source image", Err: m.images.Detach(mount)})
	}

	results = append(results, CleanupResult{Step: "eject target disk", Err: m.disks.Eject(disk)})

	for _, res := range results {
		if res.Err != nil {
			m.logger.Printf("warning: %s failed: %v", res.Step, res.Err)
		}
	}
	return results
}

func runSync() error {
	out, err := exec.Command("sync").CombinedOutput()
	if err != nil {
		return fmt.Errorf("sync failed: %w\nOutput: %s", err, string(out))
	}
	return nil
}
