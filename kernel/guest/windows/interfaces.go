package windows

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/vmware2scw/vmware2scw/kernel/fallback"
)

var guidPattern = regexp.MustCompile(`\{[0-9a-fA-F-]+\}`)

// ExtractGUIDs returns the distinct interface GUIDs mentioned in out, sorted.
func ExtractGUIDs(out string) []string {
	seen := make(map[string]bool)
	var guids []string
	for _, g := range guidPattern.FindAllString(out, -1) {
		k := strings.ToLower(g)
		if seen[k] {
			continue
		}
		seen[k] = true
		guids = append(guids, g)
	}
	sort.Strings(guids)
	return guids
}

// InterfaceGUIDs lists the TCP/IP interface GUIDs known to the guest. When
// neither virt-win-reg nor hivexsh can read them the result is empty.
func (m *Merger) InterfaceGUIDs(ctx context.Context, disk string) []string {
	var guids []string
	_, err := fallback.FirstSuccess(ctx,
		fallback.Strategy{Name: "virt-win-reg", Run: func(ctx context.Context) error {
			out, err := m.Hive.WinRegQuery(ctx, disk, `HKLM\SYSTEM\`+controlSet+`\Services\Tcpip\Parameters\Interfaces`)
			if err != nil {
				return err
			}
			guids = ExtractGUIDs(out)
			return nil
		}},
		fallback.Strategy{Name: "hivexsh", Run: func(ctx context.Context) error {
			hive := filepath.Join(m.WorkDir, "SYSTEM.query.hive")
			_ = os.Remove(hive)
			if err := m.Guest.Download(ctx, disk, SystemHivePath, hive); err != nil {
				return errors.Wrap(err, "failed to download SYSTEM hive")
			}
			out, err := m.Hive.HiveShell(ctx, hive, `cd \`+controlSet+`\Services\Tcpip\Parameters\Interfaces`+"\nls\n")
			if err != nil {
				return err
			}
			guids = ExtractGUIDs(out)
			return nil
		}},
	)
	if err != nil {
		return nil
	}
	return guids
}
