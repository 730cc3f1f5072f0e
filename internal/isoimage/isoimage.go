// Package isoimage validates that an input file is a plausible ISO9660
// optical disc image before any destructive work begins.
package isoimage

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// The primary volume descriptor starts at sector 16 (2048-byte sectors);
// its identifier field is the 5 bytes "CD001" at offset 32769.
const (
	signatureOffset = 32769
	signature       = "CD001"
)

// Validate checks that path exists, carries an .iso extension, and has the
// ISO9660 volume descriptor signature at the standard offset.
func Validate(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("cannot read ISO image %s: %w", path, err)
	}
	defer f.Close()

	if ext := strings.ToLower(filepath.Ext(path)); ext != ".iso" {
		return fmt.Errorf("%s does not look like an ISO image (extension %q, want .iso)", path, ext)
	}

	sig := make([]byte, len(signature))
	if _, err := f.ReadAt(sig, signatureOffset); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return fmt.Errorf("%s is too small to be an ISO9660 image", path)
		}
		return fmt.Errorf("cannot read volume descriptor of %s: %w", path, err)
	}
	if !bytes.Equal(sig, []byte(signature)) {
		return fmt.Errorf("%s is not an ISO9660 image (missing %s signature at offset %d)", path, signature, signatureOffset)
	}
	return nil
}
