package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MigrationState is the durable checkpoint of one migration attempt.
type MigrationState struct {
	MigrationId     string    `json:"migration_id"`
	VMName          string    `json:"vm_name"`
	TargetType      string    `json:"target_type"`
	Zone            string    `json:"zone"`
	SkipValidation  bool      `json:"skip_validation,omitempty"`
	CurrentStage    Stage     `json:"current_stage"`
	CompletedStages []Stage   `json:"completed_stages"`
	Artifacts       Artifacts `json:"artifacts"`
	StartedAt       time.Time `json:"started_at"`
	Error           string    `json:"error,omitempty"`
}

// NewMigrationId returns a short opaque identifier.
func NewMigrationId() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// NewMigrationState initializes the state for a fresh run of plan.
func NewMigrationState(plan *MigrationPlan, now time.Time) *MigrationState {
	return &MigrationState{
		MigrationId:     NewMigrationId(),
		VMName:          plan.VMName,
		TargetType:      plan.TargetType,
		Zone:            plan.Zone,
		SkipValidation:  plan.SkipValidation,
		CompletedStages: []Stage{},
		StartedAt:       now,
	}
}

// Plan rebuilds the migration plan the state was created from.
func (s *MigrationState) Plan() *MigrationPlan {
	return &MigrationPlan{
		VMName:         s.VMName,
		TargetType:     s.TargetType,
		Zone:           s.Zone,
		SkipValidation: s.SkipValidation,
	}
}

// IsCompleted reports whether stage has already been recorded as done.
func (s *MigrationState) IsCompleted(stage Stage) bool {
	for _, c := range s.CompletedStages {
		if c == stage {
			return true
		}
	}
	return false
}

// Complete appends stage to the completed list. Duplicates are ignored so
// the list stays append-only without repeats.
func (s *MigrationState) Complete(stage Stage) {
	if s.IsCompleted(stage) {
		return
	}
	s.CompletedStages = append(s.CompletedStages, stage)
}

// Clone returns a deep copy, used by stores that must not share memory with
// the caller.
func (s *MigrationState) Clone() *MigrationState {
	c := *s
	c.CompletedStages = append([]Stage{}, s.CompletedStages...)
	c.Artifacts = s.Artifacts.Clone()
	return &c
}

const (
	StatusFailed     = "failed"
	StatusCompleted  = "completed"
	StatusInProgress = "in_progress"
)

// Status summarizes the state as failed, completed or in_progress.
func (s *MigrationState) Status() string {
	switch {
	case s.Error != "":
		return StatusFailed
	case len(Remaining(s)) == 0:
		return StatusCompleted
	default:
		return StatusInProgress
	}
}
