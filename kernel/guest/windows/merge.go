package windows

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/michaelquigley/pfxlog"
	"github.com/pkg/errors"
	"github.com/vmware2scw/vmware2scw/kernel/fallback"
)

const (
	MergeVirtWinReg   = "virt-win-reg"
	MergeHivexRegedit = "hivexregedit"
)

// Merger applies registry patches to the SYSTEM hive of an offline guest.
type Merger struct {
	Guest   GuestFS
	Hive    HiveTools
	WorkDir string
}

// Merge writes patch to <WorkDir>/<name>.reg and merges it, trying
// virt-win-reg first and falling back to editing a downloaded copy of the
// hive with hivexregedit. Returns the method that succeeded.
func (m *Merger) Merge(ctx context.Context, disk, name string, patch *RegistryPatch) (string, error) {
	if err := patch.CheckParentOrder(); err != nil {
		return "", err
	}
	regFile, err := writePatch(filepath.Join(m.WorkDir, name+".reg"), patch)
	if err != nil {
		return "", err
	}

	return fallback.FirstSuccess(ctx,
		fallback.Strategy{Name: MergeVirtWinReg, Run: func(ctx context.Context) error {
			return m.Hive.WinRegMerge(ctx, disk, regFile)
		}},
		fallback.Strategy{Name: MergeHivexRegedit, Run: func(ctx context.Context) error {
			return m.mergeOffline(ctx, disk, name, regFile, patch)
		}},
	)
}

func (m *Merger) mergeOffline(ctx context.Context, disk, name, regFile string, patch *RegistryPatch) error {
	log := pfxlog.Logger().WithField("patch", name)

	hive := filepath.Join(m.WorkDir, "SYSTEM.hive")
	_ = os.Remove(hive)
	if err := m.Guest.Download(ctx, disk, SystemHivePath, hive); err != nil {
		return errors.Wrap(err, "failed to download SYSTEM hive")
	}

	if err := m.Hive.HiveMerge(ctx, hive, SystemHivePrefix, regFile); err != nil {
		log.WithError(err).Warn("bulk hive merge failed, merging key by key")

		parts := patch.Split()
		units := make([]fallback.Strategy, 0, len(parts))
		for i, part := range parts {
			partFile := filepath.Join(m.WorkDir, fmt.Sprintf("%s_part_%03d.reg", name, i))
			key := part.Keys[0].Path
			units = append(units, fallback.Strategy{Name: key, Run: func(ctx context.Context) error {
				if _, err := writePatch(partFile, part); err != nil {
					return err
				}
				return m.Hive.HiveMerge(ctx, hive, SystemHivePrefix, partFile)
			}})
		}
		failures := fallback.EachTolerant(ctx, units...)
		if len(units) > 0 && len(failures) == len(units) {
			return &fallback.ExhaustedError{Failures: failures}
		}
		if len(failures) > 0 {
			log.Warnf("%d of %d keys could not be merged", len(failures), len(units))
		}
	}

	if err := m.Guest.Upload(ctx, disk, hive, SystemHivePath); err != nil {
		return errors.Wrap(err, "failed to upload SYSTEM hive")
	}
	return nil
}

func writePatch(path string, patch *RegistryPatch) (string, error) {
	text, err := patch.Render()
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return "", errors.Wrapf(err, "failed to write '%s'", path)
	}
	return path, nil
}
