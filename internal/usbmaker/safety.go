package usbmaker

import (
	"fmt"
	"strings"

	"github.com/larsks/mkwinusb/internal/diskutil"
)

// Bus protocols that indicate a disk living on an internal bus. The
// classification is a heuristic: diskutil's reporting varies across macOS
// versions and external enclosures (a USB NVMe enclosure reports USB, some
// card readers report non-removable), so this errs on the side of refusal.
var internalBusProtocols = []string{
	"SATA",
	"PCI",
	"PCI-Express",
	"Apple Fabric",
}

// classifyTarget decides whether a disk may be erased. The disk must carry
// at least one removable/external/USB signal, and must additionally not
// carry any internal signal; the deny checks run even when an allow check
// passed. The disk hosting the running system is always refused.
func classifyTarget(id string, info *diskutil.DiskInfo, bootDisk string) error {
	if bootDisk != "" && (id == bootDisk || info.DeviceIdentifier == bootDisk) {
		return fmt.Errorf("refusing to use %s: it is the disk hosting the running system", id)
	}

	removable := info.Removable || info.RemovableMedia || info.RemovableMediaOrExternalDevice
	usb := strings.EqualFold(info.BusProtocol, "USB")
	external := !info.Internal
	if !removable && !usb && !external {
		return fmt.Errorf("refusing to use %s: it reports no removable media, no USB bus, and no external location", id)
	}

	if info.Internal {
		return fmt.Errorf("refusing to use %s: diskutil reports it as internal", id)
	}
	for _, proto := range internalBusProtocols {
		if strings.EqualFold(info.BusProtocol, proto) {
			return fmt.Errorf("refusing to use %s: bus protocol %s indicates an internal disk", id, info.BusProtocol)
		}
	}

	return nil
}

// describeDisk formats the attributes a user needs to recognize a disk
// before confirming its erasure.
func describeDisk(info *diskutil.DiskInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "  Device node:  %s\n", info.DeviceNode)
	fmt.Fprintf(&b, "  Media name:   %s\n", info.MediaName)
	fmt.Fprintf(&b, "  Size:         %s (%d bytes)\n", humanSize(info.TotalSize), info.TotalSize)
	fmt.Fprintf(&b, "  Protocol:     %s\n", info.BusProtocol)
	fmt.Fprintf(&b, "  Removable:    %v\n", info.Removable || info.RemovableMedia)
	fmt.Fprintf(&b, "  Internal:     %v\n", info.Internal)
	return b.String()
}

func humanSize(size uint64) string {
	switch {
	case size >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(size)/(1<<30))
	case size >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(size)/(1<<20))
	default:
		return fmt.Sprintf("%d KB", size/(1<<10))
	}
}
