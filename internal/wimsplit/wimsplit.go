// Package wimsplit wraps the wimlib-imagex CLI, which splits an oversized
// install.wim into FAT32-sized .swm parts. wimlib is the only external tool
// mkwinusb may install on demand.
package wimsplit

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

const toolName = "wimlib-imagex"

type Tool struct {
	logger *log.Logger
}

func New(logger *log.Logger) *Tool {
	return &Tool{logger: logger}
}

// Available reports whether wimlib-imagex can be found on PATH.
func (t *Tool) Available() bool {
	_, err := exec.LookPath(toolName)
	return err == nil
}

// Install installs wimlib through Homebrew. This is the only operation in
// mkwinusb that touches the network, so it is logged loudly.
func (t *Tool) Install() error {
	if _, err := exec.LookPath("brew"); err != nil {
		return fmt.Errorf("%s is not installed and Homebrew is not available; install wimlib manually and re-run", toolName)
	}

	t.logger.Printf("%s not found; installing wimlib via Homebrew (this downloads from the network)", toolName)
	out, err := exec.Command("brew", "install", "wimlib").CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to install wimlib: %w\nOutput: %s", err, string(out))
	}
	if !t.Available() {
		return fmt.Errorf("installed wimlib but %s is still not on PATH", toolName)
	}
	return nil
}

// BuildSplitArgs returns the wimlib-imagex argument list for splitting
// wimPath into parts of at most sizeMB megabytes under destDir. wimlib
// names the parts install.swm, install2.swm, install3.swm, ...
func BuildSplitArgs(wimPath, destDir string, sizeMB int) []string {
	return []string{
		"split",
		wimPath,
		filepath.Join(destDir, "install.swm"),
		strconv.Itoa(sizeMB),
	}
}

// Split produces the numbered .swm parts for wimPath under destDir.
func (t *Tool) Split(wimPath, destDir string, sizeMB int) error {
	args := BuildSplitArgs(wimPath, destDir, sizeMB)
	t.logger.Printf("splitting %s into %d MB parts under %s", wimPath, sizeMB, destDir)

	out, err := exec.Command(toolName, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to split %s: %w\nOutput: %s", wimPath, err, string(out))
	}

	if _, err := os.Stat(filepath.Join(destDir, "install.swm")); err != nil {
		return fmt.Errorf("split reported success but install.swm is missing: %w", err)
	}
	return nil
}
