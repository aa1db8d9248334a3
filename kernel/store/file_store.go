package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vmware2scw/vmware2scw/kernel/model"
)

const stateFileSuffix = ".json"

// FileStore keeps one JSON document per migration under Root. Writes go
// through a temp file and rename, so a reader sees either the previous or
// the new document.
type FileStore struct {
	Root string
	mu   sync.Mutex
}

func NewFileStore(root string) *FileStore {
	return &FileStore{Root: root}
}

func (s *FileStore) Save(state *model.MigrationState) error {
	if state.MigrationId == "" {
		return errors.New("cannot save state without migration id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.Root, 0755); err != nil {
		return errors.Wrap(err, "failed to create state directory")
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal state")
	}

	return atomicWrite(s.statePath(state.MigrationId), data, 0600)
}

func (s *FileStore) Load(migrationId string) (*model.MigrationState, error) {
	if !validId(migrationId) {
		return nil, errors.Wrapf(ErrNotFound, "invalid migration id '%s'", migrationId)
	}
	data, err := os.ReadFile(s.statePath(migrationId))
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrNotFound, "migration '%s'", migrationId)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read state")
	}

	state := &model.MigrationState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, errors.Wrapf(err, "failed to parse state for migration '%s'", migrationId)
	}
	return state, nil
}

func (s *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.Root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to list state directory")
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, stateFileSuffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, stateFileSuffix))
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *FileStore) statePath(migrationId string) string {
	return filepath.Join(s.Root, migrationId+stateFileSuffix)
}

func validId(id string) bool {
	return id != "" && !strings.ContainsAny(id, `/\`) && id != "." && id != ".."
}

func atomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".state-tmp-*")
	if err != nil {
		return errors.Wrap(err, "atomic write create tmp")
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return errors.Wrap(err, "atomic write")
	}
	if err := tmp.Chmod(perm); err != nil {
		return errors.Wrap(err, "atomic write chmod")
	}
	if err := tmp.Sync(); err != nil {
		return errors.Wrap(err, "atomic write fsync")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "atomic write close")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errors.Wrap(err, "atomic write rename")
	}
	success = true

	d, err := os.Open(dir)
	if err != nil {
		return errors.Wrap(err, "atomic write open dir")
	}
	defer d.Close()
	return errors.Wrap(d.Sync(), "atomic write fsync dir")
}
