package diskutil

// DiskInfo mirrors the subset of "diskutil info -plist <disk>" output that
// mkwinusb cares about when deciding whether a disk is a safe target.
type DiskInfo struct {
	BusProtocol                    string `plist:"BusProtocol"`
	DeviceIdentifier               string `plist:"DeviceIdentifier"`
	DeviceNode                     string `plist:"DeviceNode"`
	Ejectable                      bool   `plist:"Ejectable"`
	Internal                       bool   `plist:"Internal"`
	IORegistryEntryName            string `plist:"IORegistryEntryName"`
	MediaName                      string `plist:"MediaName"`
	MountPoint                     string `plist:"MountPoint"`
	ParentWholeDisk                string `plist:"ParentWholeDisk"`
	Removable                      bool   `plist:"Removable"`
	RemovableMedia                 bool   `plist:"RemovableMedia"`
	RemovableMediaOrExternalDevice bool   `plist:"RemovableMediaOrExternalDevice"`
	SolidState                     bool   `plist:"SolidState"`
	TotalSize                      uint64 `plist:"TotalSize"`
	VirtualOrPhysical              string `plist:"VirtualOrPhysical"`
	VolumeName                     string `plist:"VolumeName"`
	WholeDisk                      bool   `plist:"WholeDisk"`
	Writable                       bool   `plist:"Writable"`
}
