// Package validate decides whether a source VM can be migrated to a given
// Scaleway commercial type.
package validate

import (
	"strings"
)

const (
	FamilyLinux   = "linux"
	FamilyWindows = "windows"
	FamilyOther   = "other"
)

var linuxGuestPrefixes = []string{
	"ubuntu", "debian", "rhel", "centos", "oracle", "sles", "opensuse", "fedora",
	"rocky", "almalinux", "amazonlinux", "coreos", "photon", "mandriva", "asianux",
	"other24xlinux", "other26xlinux", "other3xlinux", "other4xlinux", "other5xlinux",
	"other6xlinux", "otherlinux", "genericlinux",
}

// OSFamily maps a vSphere guest identifier (e.g. windows2019srv_64Guest,
// ubuntu64Guest) to linux, windows or other.
func OSFamily(guestId string) string {
	id := strings.ToLower(strings.TrimSpace(guestId))
	if id == "" {
		return FamilyOther
	}
	if strings.HasPrefix(id, "win") {
		return FamilyWindows
	}
	for _, p := range linuxGuestPrefixes {
		if strings.HasPrefix(id, p) {
			return FamilyLinux
		}
	}
	if strings.Contains(id, "linux") {
		return FamilyLinux
	}
	return FamilyOther
}
