package windows

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/michaelquigley/pfxlog"
	"github.com/pkg/errors"
)

// ExtractedDriver is a driver copied out of the mounted ISO.
type ExtractedDriver struct {
	Name       string
	SysFile    string
	PackageDir string
	Source     string
}

// FindDriverDir locates the directory holding <name>.sys for def inside the
// mounted ISO: the OSSubdirs under the driver's own directory first, then any
// amd64 directory anywhere on the media.
func FindDriverDir(mountDir string, def DriverDefinition) (string, bool) {
	sysName := def.Name + ".sys"
	for _, sub := range OSSubdirs {
		dir := filepath.Join(mountDir, def.ISODir, filepath.FromSlash(sub))
		if isRegular(filepath.Join(dir, sysName)) {
			return dir, true
		}
	}

	var found string
	_ = filepath.WalkDir(mountDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || !strings.EqualFold(d.Name(), sysName) {
			return nil
		}
		if strings.Contains(strings.ToLower(path), "amd64") {
			found = filepath.Dir(path)
			return fs.SkipAll
		}
		return nil
	})
	return found, found != ""
}

// ExtractDrivers copies the .sys file and the whole package directory of each
// driver found on the media into workDir. Drivers that cannot be found are
// logged and left out of the result.
func ExtractDrivers(mountDir, workDir string, defs []DriverDefinition) (map[string]ExtractedDriver, error) {
	log := pfxlog.Logger()

	out := make(map[string]ExtractedDriver, len(defs))
	for _, def := range defs {
		dir, ok := FindDriverDir(mountDir, def)
		if !ok {
			log.Warnf("driver '%s' not found on virtio-win media", def.Name)
			continue
		}

		sysFile := filepath.Join(workDir, def.Name+".sys")
		if err := copyFile(filepath.Join(dir, def.Name+".sys"), sysFile); err != nil {
			return nil, errors.Wrapf(err, "failed to extract '%s'", def.Name)
		}
		pkgDir := filepath.Join(workDir, "drv_"+def.Name)
		if err := os.RemoveAll(pkgDir); err != nil {
			return nil, err
		}
		if err := copyTree(dir, pkgDir); err != nil {
			return nil, errors.Wrapf(err, "failed to extract package of '%s'", def.Name)
		}

		rel, _ := filepath.Rel(mountDir, dir)
		log.Infof("extracted %s from %s", def.Name, filepath.ToSlash(rel))
		out[def.Name] = ExtractedDriver{Name: def.Name, SysFile: sysFile, PackageDir: pkgDir, Source: dir}
	}
	return out, nil
}

func isRegular(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(path, target)
	})
}
