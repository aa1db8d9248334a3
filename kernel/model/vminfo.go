package model

// VMInfo is the inventory record of the source virtual machine.
type VMInfo struct {
	Name       string     `json:"name"`
	GuestOS    string     `json:"guest_os"`
	GuestName  string     `json:"guest_full_name,omitempty"`
	Firmware   string     `json:"firmware"`
	CPU        int        `json:"cpu"`
	MemoryMB   int64      `json:"memory_mb"`
	PowerState string     `json:"power_state,omitempty"`
	Disks      []DiskInfo `json:"disks,omitempty"`
}

type DiskInfo struct {
	Label         string `json:"label"`
	CapacityBytes int64  `json:"capacity_bytes"`
	FileName      string `json:"file_name,omitempty"`
}

// TotalDiskBytes sums the capacity of every disk.
func (v *VMInfo) TotalDiskBytes() int64 {
	var total int64
	for _, d := range v.Disks {
		total += d.CapacityBytes
	}
	return total
}
