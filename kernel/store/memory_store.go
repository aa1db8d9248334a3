package store

import (
	"sort"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/pkg/errors"
	"github.com/vmware2scw/vmware2scw/kernel/model"
)

// MemoryStore is an in-memory StateStore for tests and throwaway runs.
type MemoryStore struct {
	states cmap.ConcurrentMap[string, *model.MigrationState]
	saves  cmap.ConcurrentMap[string, int]
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: cmap.New[*model.MigrationState](),
		saves:  cmap.New[int](),
	}
}

func (s *MemoryStore) Save(state *model.MigrationState) error {
	if state.MigrationId == "" {
		return errors.New("cannot save state without migration id")
	}
	// copy so later mutation by the caller is not visible until the next save
	s.states.Set(state.MigrationId, state.Clone())
	s.saves.Upsert(state.MigrationId, 1, func(exist bool, old int, n int) int {
		if exist {
			return old + n
		}
		return n
	})
	return nil
}

func (s *MemoryStore) Load(migrationId string) (*model.MigrationState, error) {
	state, ok := s.states.Get(migrationId)
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "migration '%s'", migrationId)
	}
	return state.Clone(), nil
}

func (s *MemoryStore) List() ([]string, error) {
	keys := s.states.Keys()
	sort.Strings(keys)
	return keys, nil
}

// SaveCount returns how many times a migration was persisted.
func (s *MemoryStore) SaveCount(migrationId string) int {
	n, _ := s.saves.Get(migrationId)
	return n
}
