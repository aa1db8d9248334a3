// Package windows prepares an offline Windows guest image to boot on KVM with
// virtio devices.
//
// The preparation is layered so that a partial failure of one layer still
// leaves the guest bootable:
//
//	Layer 1: driver .sys files in System32\drivers plus Services registry keys
//	Layer 2: full driver packages in C:\Drivers plus a pnputil firstboot script
//	Layer 3: DHCP forced on every known interface, offline and at firstboot
package windows

// DriverDefinition describes the Services entry of one virtio driver.
type DriverDefinition struct {
	Name         string
	Group        string
	ImagePath    string
	Start        uint32
	Type         uint32
	ErrorControl uint32
	Tag          *uint32
	ISODir       string
	BootCritical bool
}

func tag(v uint32) *uint32 {
	return &v
}

// Catalogue is the set of drivers every migrated Windows guest needs.
var Catalogue = []DriverDefinition{
	{
		Name:         "netkvm",
		Group:        "NDIS",
		ImagePath:    `system32\drivers\netkvm.sys`,
		Start:        0,
		Type:         1,
		ErrorControl: 1,
		ISODir:       "NetKVM",
	},
	{
		Name:         "vioscsi",
		Group:        "SCSI miniport",
		ImagePath:    `system32\drivers\vioscsi.sys`,
		Start:        0,
		Type:         1,
		ErrorControl: 1,
		Tag:          tag(0x41),
		ISODir:       "vioscsi",
		BootCritical: true,
	},
	{
		Name:         "viostor",
		Group:        "SCSI miniport",
		ImagePath:    `system32\drivers\viostor.sys`,
		Start:        0,
		Type:         1,
		ErrorControl: 1,
		Tag:          tag(0x40),
		ISODir:       "viostor",
		BootCritical: true,
	},
}

// OSSubdirs is the search order inside each driver directory of the
// virtio-win ISO, newest guest version first.
var OSSubdirs = []string{"2k22/amd64", "2k19/amd64", "2k16/amd64", "w11/amd64", "w10/amd64"}

const (
	SystemHivePath     = "/Windows/System32/config/SYSTEM"
	SystemHivePrefix   = `HKEY_LOCAL_MACHINE\SYSTEM`
	GuestDriversDir    = "/Windows/System32/drivers"
	GuestStagingDir    = "/Drivers"
	controlSet         = "ControlSet001"
	servicesKey        = SystemHivePrefix + `\` + controlSet + `\Services`
	tcpipInterfacesKey = servicesKey + `\Tcpip\Parameters\Interfaces`
)

func driverGuestPath(name string) string {
	return GuestDriversDir + "/" + name + ".sys"
}
