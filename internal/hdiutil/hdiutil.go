// Package hdiutil wraps the macOS hdiutil command for attaching and
// detaching disk images, and for discovering images that are already
// attached so the same ISO is never mounted twice.
package hdiutil

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"howett.net/plist"
)

const volumesRoot = "/Volumes"

// Windows installation ISOs carry volume labels starting with one of these
// prefixes (e.g. CCCOMA_X64FRE_EN-US_DV9). They are used to recognize the
// freshly mounted ISO under /Volumes when hdiutil does not report a mount
// point directly.
var microsoftLabelPrefixes = []string{
	"CCCOMA_",
	"CPBA_",
	"CENA_",
	"CES_",
	"CEDA_",
	"J_CCSA_",
	"ESD-ISO",
}

type Client struct {
	logger *log.Logger
}

func New(logger *log.Logger) *Client {
	return &Client{logger: logger}
}

type systemEntity struct {
	ContentHint string `plist:"content-hint"`
	DevEntry    string `plist:"dev-entry"`
	MountPoint  string `plist:"mount-point"`
}

type imageEntry struct {
	ImagePath      string         `plist:"image-path"`
	SystemEntities []systemEntity `plist:"system-entities"`
}

type infoDocument struct {
	Images []imageEntry `plist:"images"`
}

type attachDocument struct {
	SystemEntities []systemEntity `plist:"system-entities"`
}

// MountPointOf scans the attached-image registry for an image whose source
// path matches imagePath and returns its mount point, or "" when the image
// is not attached.
func (c *Client) MountPointOf(imagePath string) (string, error) {
	out, err := exec.Command("hdiutil", "info", "-plist").Output()
	if err != nil {
		return "", fmt.Errorf("hdiutil info failed: %w", err)
	}
	return findMountPoint(out, imagePath)
}

func findMountPoint(data []byte, imagePath string) (string, error) {
	var doc infoDocument
	if _, err := plist.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("failed to parse hdiutil info output: %w", err)
	}

	abs, err := filepath.Abs(imagePath)
	if err != nil {
		abs = imagePath
	}

	for _, img := range doc.Images {
		if img.ImagePath != abs && img.ImagePath != imagePath {
			continue
		}
		for _, ent := range img.SystemEntities {
			if ent.MountPoint != "" {
				return ent.MountPoint, nil
			}
		}
	}
	return "", nil
}

// Attach mounts the image read-only without opening a Finder window and
// returns its mount point.
func (c *Client) Attach(imagePath string) (string, error) {
	out, err := exec.Command("hdiutil", "attach", "-plist", "-readonly", "-nobrowse", imagePath).Output()
	if err != nil {
		return "", fmt.Errorf("failed to attach %s: %w", imagePath, err)
	}

	mount, err := attachedMountPoint(out)
	if err != nil {
		c.logger.Printf("warning: %v", err)
	}
	if mount != "" {
		return mount, nil
	}

	// hdiutil occasionally omits the mount point from its plist reply;
	// fall back to locating the new volume under /Volumes.
	mount, err = resolveMountPoint(volumesRoot)
	if err != nil {
		return "", fmt.Errorf("attached %s but could not resolve its mount point: %w", imagePath, err)
	}
	return mount, nil
}

func attachedMountPoint(data []byte) (string, error) {
	var doc attachDocument
	if _, err := plist.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("failed to parse hdiutil attach output: %w", err)
	}
	for _, ent := range doc.SystemEntities {
		if ent.MountPoint != "" {
			return ent.MountPoint, nil
		}
	}
	return "", nil
}

// resolveMountPoint picks the mounted ISO volume under root: a unique entry
// matching the known Microsoft label prefixes wins, otherwise the
// most-recently-modified entry.
func resolveMountPoint(root string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", root, err)
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("no volumes found under %s", root)
	}

	var matches []string
	for _, entry := range entries {
		for _, prefix := range microsoftLabelPrefixes {
			if strings.HasPrefix(entry.Name(), prefix) {
				matches = append(matches, entry.Name())
				break
			}
		}
	}
	if len(matches) == 1 {
		return filepath.Join(root, matches[0]), nil
	}

	var newest string
	var newestMod int64
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if mod := info.ModTime().UnixNano(); newest == "" || mod > newestMod {
			newest = entry.Name()
			newestMod = mod
		}
	}
	if newest == "" {
		return "", fmt.Errorf("no readable volumes under %s", root)
	}
	return filepath.Join(root, newest), nil
}

// Detach unmounts and detaches an attached image by its mount point.
func (c *Client) Detach(mountPoint string) error {
	out, err := exec.Command("hdiutil", "detach", mountPoint).CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to detach %s: %w\nOutput: %s", mountPoint, err, string(out))
	}
	return nil
}
