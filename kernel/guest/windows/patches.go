package windows

import (
	"sort"
)

// BuildDriverPatch produces the Services entries for defs. Keys are emitted
// parent first: the service key, Parameters, Parameters\PnpInterface, Enum.
func BuildDriverPatch(defs []DriverDefinition) *RegistryPatch {
	sorted := append([]DriverDefinition(nil), defs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	patch := &RegistryPatch{}
	for _, d := range sorted {
		base := servicesKey + `\` + d.Name

		entries := []Entry{
			{Name: "Group", Value: String(d.Group)},
			{Name: "ImagePath", Value: ExpandString(d.ImagePath)},
			{Name: "ErrorControl", Value: DWord(d.ErrorControl)},
			{Name: "Start", Value: DWord(d.Start)},
			{Name: "Type", Value: DWord(d.Type)},
		}
		if d.Tag != nil {
			entries = append(entries, Entry{Name: "Tag", Value: DWord(*d.Tag)})
		}
		patch.AddKey(base, entries...)
		patch.AddKey(base + `\Parameters`)
		patch.AddKey(base+`\Parameters\PnpInterface`, Entry{Name: "5", Value: DWord(1)})
		patch.AddKey(base+`\Enum`,
			Entry{Name: "Count", Value: DWord(0)},
			Entry{Name: "NextInstance", Value: DWord(0)},
		)
	}
	return patch
}

// BuildDHCPPatch forces DHCP on every interface GUID and clears any static
// addressing left by the source network.
func BuildDHCPPatch(guids []string) *RegistryPatch {
	patch := &RegistryPatch{}
	for _, guid := range guids {
		patch.AddKey(tcpipInterfacesKey+`\`+guid,
			Entry{Name: "EnableDHCP", Value: DWord(1)},
			Entry{Name: "IPAddress", Value: MultiString("0.0.0.0")},
			Entry{Name: "SubnetMask", Value: MultiString("0.0.0.0")},
			Entry{Name: "DefaultGateway", Value: MultiString()},
			Entry{Name: "NameServer", Value: String("")},
		)
	}
	return patch
}
