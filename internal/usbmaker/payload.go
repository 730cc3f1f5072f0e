package usbmaker

import (
	"fmt"
	"os"
	"path/filepath"
)

// FAT32 cannot hold a single file larger than 4 GiB.
const fat32MaxFileSize = int64(4) << 30

// Payload describes the Windows installation image found under sources/ in
// the mounted ISO.
type Payload struct {
	Path  string
	Name  string
	Size  int64
	IsWIM bool
}

// findPayload locates sources/install.wim (preferred) or sources/install.esd
// under the mounted image root.
func findPayload(mount string) (*Payload, error) {
	for _, name := range []string{"install.wim", "install.esd"} {
		path := filepath.Join(mount, "sources", name)
		fi, err := os.Stat(path)
		if err != nil {
			continue
		}
		return &Payload{
			Path:  path,
			Name:  name,
			Size:  fi.Size(),
			IsWIM: name == "install.wim",
		}, nil
	}
	return nil, fmt.Errorf("no install.wim or install.esd under %s/sources; this does not look like a Windows installation image", mount)
}

// NeedsSplit reports whether the payload must be split to fit on FAT32.
// Only install.wim is ever split, and only when strictly larger than 4 GiB;
// install.esd images stay under the limit and are copied as-is.
func (p *Payload) NeedsSplit() bool {
	return p.IsWIM && p.Size > fat32MaxFileSize
}
