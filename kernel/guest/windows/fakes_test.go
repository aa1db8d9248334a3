package windows

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vmware2scw/vmware2scw/kernel/guest"
)

type fakeGuest struct {
	mu        sync.Mutex
	files     map[string]string
	dirs      map[string]bool
	uploads   []string
	downloads []string
}

func newFakeGuest(files ...string) *fakeGuest {
	g := &fakeGuest{files: make(map[string]string), dirs: make(map[string]bool)}
	for _, f := range files {
		g.files[f] = "original"
	}
	return g
}

func (g *fakeGuest) IsFile(_ context.Context, _, guestPath string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.files[guestPath]
	return ok, nil
}

func (g *fakeGuest) Upload(_ context.Context, _, local, guestPath string) error {
	data, err := os.ReadFile(local)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.files[guestPath] = string(data)
	g.uploads = append(g.uploads, guestPath)
	return nil
}

func (g *fakeGuest) Download(_ context.Context, _, guestPath, local string) error {
	g.mu.Lock()
	g.downloads = append(g.downloads, guestPath)
	g.mu.Unlock()
	return os.WriteFile(local, []byte("regf"), 0644)
}

func (g *fakeGuest) MkdirP(_ context.Context, _, guestDir string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dirs[guestDir] = true
	return nil
}

func (g *fakeGuest) filesUnder(dir string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for p := range g.files {
		if strings.HasPrefix(p, dir+"/") {
			out = append(out, p)
		}
	}
	return out
}

// fakeHive keeps the guest registry as a key path -> value name -> value map.
type fakeHive struct {
	mu          sync.Mutex
	keys        map[string]map[string]Value
	winRegErr   error
	hiveErr     func(regFile string) error
	queryOut    string
	queryErr    error
	shellOut    string
	shellScript string
	calls       []string
}

func newFakeHive() *fakeHive {
	return &fakeHive{keys: make(map[string]map[string]Value)}
}

func (h *fakeHive) apply(regFile string) error {
	data, err := os.ReadFile(regFile)
	if err != nil {
		return err
	}
	patch, err := ParseRegFile(string(data))
	if err != nil {
		return err
	}
	seen := make(map[string]bool)
	for _, k := range patch.Keys {
		path := strings.ToLower(k.Path)
		if seen[path] {
			return errors.Errorf("duplicate key '%s'", k.Path)
		}
		seen[path] = true
		values, ok := h.keys[path]
		if !ok {
			values = make(map[string]Value)
			h.keys[path] = values
		}
		for _, e := range k.Entries {
			values[e.Name] = e.Value
		}
	}
	return nil
}

func (h *fakeHive) WinRegMerge(_ context.Context, _, regFile string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, "virt-win-reg --merge "+filepath.Base(regFile))
	if h.winRegErr != nil {
		return h.winRegErr
	}
	return h.apply(regFile)
}

func (h *fakeHive) WinRegQuery(_ context.Context, _, key string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, "virt-win-reg "+key)
	return h.queryOut, h.queryErr
}

func (h *fakeHive) HiveMerge(_ context.Context, _, prefix, regFile string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, "hivexregedit "+filepath.Base(regFile))
	if prefix != SystemHivePrefix {
		return errors.Errorf("unexpected prefix '%s'", prefix)
	}
	if h.hiveErr != nil {
		if err := h.hiveErr(regFile); err != nil {
			return err
		}
	}
	return h.apply(regFile)
}

func (h *fakeHive) HiveShell(_ context.Context, _, script string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, "hivexsh")
	h.shellScript = script
	return h.shellOut, nil
}

func (h *fakeHive) key(path string) (map[string]Value, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.keys[strings.ToLower(path)]
	return v, ok
}

func (h *fakeHive) countKeys(prefix string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for k := range h.keys {
		if k == strings.ToLower(prefix) {
			n++
		}
	}
	return n
}

type fakeMedia struct {
	dir   string
	err   error
	opens int
}

func (m *fakeMedia) Open(_ context.Context, _ string) (*guest.MountedMedia, error) {
	m.opens++
	if m.err != nil {
		return nil, m.err
	}
	return &guest.MountedMedia{Dir: m.dir}, nil
}

// writeTree creates files (relative slash paths) under root.
func writeTree(root string, files ...string) error {
	for _, f := range files {
		path := filepath.Join(root, filepath.FromSlash(f))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(f), 0644); err != nil {
			return err
		}
	}
	return nil
}
