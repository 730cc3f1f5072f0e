// Package rsync runs the system rsync to mirror the mounted ISO onto the
// target volume, redrawing rsync's progress output on a single line.
package rsync

import (
	"bufio"
	"bytes"
	"fmt"
	"log"
	"os/exec"
	"strings"

	"github.com/gosuri/uilive"
)

type Copier struct {
	logger *log.Logger
}

func New(logger *log.Logger) *Copier {
	return &Copier{logger: logger}
}

// BuildArgs returns the rsync argument list for copying src into dst.
// Both paths get a trailing slash so rsync copies directory contents, and
// excludes are passed through as patterns relative to src.
func BuildArgs(src, dst string, excludes []string) []string {
	args := []string{"-ah", "--progress"}
	for _, ex := range excludes {
		args = append(args, "--exclude="+ex)
	}
	args = append(args,
		strings.TrimSuffix(src, "/")+"/",
		strings.TrimSuffix(dst, "/")+"/",
	)
	return args
}

// Copy mirrors src into dst, excluding the given patterns. rsync's progress
// stream is displayed in place so long copies do not scroll the terminal.
func (c *Copier) Copy(src, dst string, excludes []string) error {
	args := BuildArgs(src, dst, excludes)
	c.logger.Printf("copying %s -> %s", src, dst)

	cmd := exec.Command("rsync", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open rsync stdout: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start rsync: %w", err)
	}

	writer := uilive.New()
	writer.Start()
	scanner := bufio.NewScanner(stdout)
	scanner.Split(scanProgress)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fmt.Fprintf(writer, "%s\n", line)
	}
	writer.Stop()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("rsync failed: %w\nOutput: %s", err, stderr.String())
	}
	return nil
}

// scanProgress splits on both newlines and carriage returns, since rsync
// redraws its progress counter with bare \r.
func scanProgress(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
