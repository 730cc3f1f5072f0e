package usbmaker

import (
	"github.com/larsks/mkwinusb/internal/diskutil"
)

// Config holds the options for one run. It is built once from the command
// line and never modified afterwards.
type Config struct {
	ISOPath     string
	DiskID      string
	VolumeName  string
	SplitSizeMB int
}

// DiskService abstracts the OS disk utility (diskutil on macOS). The
// production implementation is internal/diskutil; tests substitute fakes.
type DiskService interface {
	List() (string, error)
	Info(target string) (*diskutil.DiskInfo, error)
	BootDisk() (string, error)
	UnmountDisk(disk string) error
	Erase(disk, label string) error
	UnmountForce(volume string) error
	MountFAT(device, dir string) error
	Eject(disk string) error
}

// ImageService abstracts the OS image-mount service (hdiutil on macOS).
type ImageService interface {
	// MountPointOf returns the mount point of an already-attached image,
	// or "" when the image is not attached.
	MountPointOf(imagePath string) (string, error)
	Attach(imagePath string) (string, error)
	Detach(mountPoint string) error
}

// Copier abstracts the recursive file-sync utility (rsync).
type Copier interface {
	Copy(src, dst string, excludes []string) error
}

// Splitter abstracts the WIM-splitting tool (wimlib-imagex).
type Splitter interface {
	Available() bool
	Install() error
	Split(wimPath, destDir string, sizeMB int) error
}

// CleanupResult records the outcome of one best-effort finalization step.
// A non-nil Err means the step failed, but cleanup failures never change
// the overall run status once the copy has completed.
type CleanupResult struct {
	Step string
	Err  error
}
