package store

import (
	"github.com/pkg/errors"
	"github.com/vmware2scw/vmware2scw/kernel/model"
)

// ErrNotFound is returned by Load when no migration has the requested id.
var ErrNotFound = errors.New("migration not found")

// StateStore persists migration checkpoints keyed by migration id.
type StateStore interface {
	Save(state *model.MigrationState) error
	Load(migrationId string) (*model.MigrationState, error)
	List() ([]string, error)
}
