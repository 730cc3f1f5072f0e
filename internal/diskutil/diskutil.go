// Package diskutil wraps the macOS diskutil command. All destructive disk
// operations performed by mkwinusb (unmount, erase, eject) go through here.
package diskutil

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"

	"howett.net/plist"
)

type Client struct {
	logger *log.Logger
}

func New(logger *log.Logger) *Client {
	return &Client{logger: logger}
}

// DeviceNode normalizes a disk identifier like "disk2" or "/dev/disk2"
// to its device node path.
func DeviceNode(id string) string {
	if strings.HasPrefix(id, "/dev/") {
		return id
	}
	return "/dev/" + id
}

// List returns the human-readable output of "diskutil list", used for the
// interactive disk selection prompt.
func (c *Client) List() (string, error) {
	out, err := exec.Command("diskutil", "list").CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("failed to list disks: %w\nOutput: %s", err, string(out))
	}
	return string(out), nil
}

// Info queries diskutil for a disk identifier, device node or mount point.
// For device nodes the node must exist before diskutil is asked about it.
func (c *Client) Info(target string) (*DiskInfo, error) {
	if strings.HasPrefix(target, "disk") || strings.HasPrefix(target, "/dev/disk") {
		node := DeviceNode(target)
		if _, err := os.Stat(node); err != nil {
			return nil, fmt.Errorf("device node %s does not exist: %w", node, err)
		}
	}

	out, err := exec.Command("diskutil", "info", "-plist", target).Output()
	if err != nil {
		return nil, fmt.Errorf("diskutil info failed for %s: %w", target, err)
	}
	return ParseDiskInfo(out)
}

// ParseDiskInfo decodes the plist document produced by "diskutil info -plist".
func ParseDiskInfo(data []byte) (*DiskInfo, error) {
	var info DiskInfo
	if _, err := plist.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse diskutil plist output: %w", err)
	}
	return &info, nil
}

// BootDisk returns the whole-disk identifier backing the running system,
// e.g. "disk0".
func (c *Client) BootDisk() (string, error) {
	info, err := c.Info("/")
	if err != nil {
		return "", fmt.Errorf("failed to identify the boot disk: %w", err)
	}
	if info.ParentWholeDisk != "" {
		return info.ParentWholeDisk, nil
	}
	return info.DeviceIdentifier, nil
}

// UnmountDisk unmounts every volume on the given disk.
func (c *Client) UnmountDisk(disk string) error {
	node := DeviceNode(disk)
	out, err := exec.Command("diskutil", "unmountDisk", node).CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to unmount %s: %w\nOutput: %s", node, err, string(out))
	}
	return nil
}

// Erase repartitions the disk with a GPT scheme holding a single FAT32
// volume named label. This is the destructive step.
func (c *Client) Erase(disk, label string) error {
	node := DeviceNode(disk)
	c.logger.Printf("erasing %s as GPT with a FAT32 volume named %s", node, label)
	out, err := exec.Command("diskutil", "eraseDisk", "MS-DOS", label, "GPT", node).CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to erase %s: %w\nOutput: %s", node, err, string(out))
	}
	return nil
}

// UnmountForce force-unmounts a single volume by mount point or device node.
func (c *Client) UnmountForce(volume string) error {
	out, err := exec.Command("diskutil", "unmount", "force", volume).CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to force-unmount %s: %w\nOutput: %s", volume, err, string(out))
	}
	return nil
}

// MountFAT mounts a FAT filesystem read-write at dir using mount_msdos via
// mount -t msdos. Used to recover volumes that auto-mounted read-only.
func (c *Client) MountFAT(device, dir string) error {
	out, err := exec.Command("mount", "-t", "msdos", device, dir).CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to mount %s read-write at %s: %w\nOutput: %s", device, dir, err, string(out))
	}
	return nil
}

// Eject ejects the disk so it can be unplugged safely.
func (c *Client) Eject(disk string) error {
	node := DeviceNode(disk)
	out, err := exec.Command("diskutil", "eject", node).CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to eject %s: %w\nOutput: %s", node, err, string(out))
	}
	return nil
}
