package validate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/vmware2scw/vmware2scw/kernel/model"
)

// Check is the outcome of one pre-flight rule.
type Check struct {
	Name     string
	Passed   bool
	Blocking bool
	Message  string
}

type Report struct {
	VMName     string
	TargetType string
	Checks     []Check
}

// Failures returns the checks that did not pass and block the migration.
func (r *Report) Failures() []Check {
	var out []Check
	for _, c := range r.Checks {
		if !c.Passed && c.Blocking {
			out = append(out, c)
		}
	}
	return out
}

func (r *Report) Warnings() []Check {
	var out []Check
	for _, c := range r.Checks {
		if !c.Passed && !c.Blocking {
			out = append(out, c)
		}
	}
	return out
}

func (r *Report) OK() bool {
	return len(r.Failures()) == 0
}

func (r *Report) add(name string, passed, blocking bool, format string, args ...interface{}) {
	r.Checks = append(r.Checks, Check{Name: name, Passed: passed, Blocking: blocking, Message: fmt.Sprintf(format, args...)})
}

// InstanceType is the sizing of a Scaleway commercial type.
type InstanceType struct {
	Name     string
	CPU      int
	MemoryGB int
}

var knownTypes = map[string]InstanceType{
	"DEV1-S":   {Name: "DEV1-S", CPU: 2, MemoryGB: 2},
	"DEV1-M":   {Name: "DEV1-M", CPU: 3, MemoryGB: 4},
	"DEV1-L":   {Name: "DEV1-L", CPU: 4, MemoryGB: 8},
	"DEV1-XL":  {Name: "DEV1-XL", CPU: 4, MemoryGB: 12},
	"GP1-XS":   {Name: "GP1-XS", CPU: 4, MemoryGB: 16},
	"GP1-S":    {Name: "GP1-S", CPU: 8, MemoryGB: 32},
	"GP1-M":    {Name: "GP1-M", CPU: 16, MemoryGB: 64},
	"GP1-L":    {Name: "GP1-L", CPU: 32, MemoryGB: 128},
	"GP1-XL":   {Name: "GP1-XL", CPU: 48, MemoryGB: 256},
	"PRO2-XXS": {Name: "PRO2-XXS", CPU: 2, MemoryGB: 8},
	"PRO2-XS":  {Name: "PRO2-XS", CPU: 4, MemoryGB: 16},
	"PRO2-S":   {Name: "PRO2-S", CPU: 8, MemoryGB: 32},
	"PRO2-M":   {Name: "PRO2-M", CPU: 16, MemoryGB: 64},
	"PRO2-L":   {Name: "PRO2-L", CPU: 32, MemoryGB: 128},
}

// sized types encode their sizing in the name, e.g. POP2-4C-16G or POP2-HM-8C-64G
var sizedType = regexp.MustCompile(`^[A-Z0-9]+(?:-[A-Z]+)?-(\d+)C-(\d+)G(?:-WIN)?$`)

// LookupType resolves a commercial type name.
func LookupType(name string) (InstanceType, bool) {
	n := strings.ToUpper(strings.TrimSpace(name))
	if t, ok := knownTypes[n]; ok {
		return t, true
	}
	m := sizedType.FindStringSubmatch(n)
	if m == nil {
		return InstanceType{}, false
	}
	cpu, _ := strconv.Atoi(m[1])
	mem, _ := strconv.Atoi(m[2])
	return InstanceType{Name: n, CPU: cpu, MemoryGB: mem}, true
}

// maxBootDiskBytes is the largest boot volume accepted by the image import.
const maxBootDiskBytes = 10 << 40

// Validate runs the pre-flight rules for info against targetType.
func Validate(info *model.VMInfo, targetType string) *Report {
	r := &Report{TargetType: targetType}
	if info == nil {
		r.add("vm", false, true, "virtual machine inventory is missing")
		return r
	}
	r.VMName = info.Name

	family := OSFamily(info.GuestOS)
	r.add("guest_os", family != FamilyOther, true, "guest '%s' maps to family '%s'", info.GuestOS, family)

	r.add("disks", len(info.Disks) > 0, true, "%d disk(s), %s total", len(info.Disks), humanize.IBytes(uint64(info.TotalDiskBytes())))
	if len(info.Disks) > 0 {
		boot := info.Disks[0].CapacityBytes
		r.add("boot_disk_size", boot <= maxBootDiskBytes, true, "boot disk is %s", humanize.IBytes(uint64(boot)))
	}

	firmware := info.Firmware
	if firmware == "" {
		firmware = "bios"
	}
	switch {
	case firmware == "efi":
		r.add("firmware", true, false, "UEFI firmware")
	case family == FamilyWindows:
		r.add("firmware", false, false, "BIOS Windows guest; conversion to UEFI is not automated")
	default:
		r.add("firmware", false, false, "BIOS guest, disk will be converted to UEFI")
	}

	t, ok := LookupType(targetType)
	if !ok {
		r.add("target_type", false, true, "unknown commercial type '%s'", targetType)
		return r
	}
	r.add("target_type", true, true, "%s: %d vCPU, %d GiB", t.Name, t.CPU, t.MemoryGB)

	memMB := int64(t.MemoryGB) * 1024
	r.add("memory", info.MemoryMB <= memMB, false, "source has %d MiB, target %d MiB", info.MemoryMB, memMB)
	r.add("cpu", info.CPU <= t.CPU, false, "source has %d vCPU, target %d", info.CPU, t.CPU)

	if family == FamilyWindows {
		r.add("windows_license", strings.HasSuffix(t.Name, "-WIN"), false,
			"Windows guests need a -WIN commercial type for licensing, got '%s'", t.Name)
	}
	return r
}
