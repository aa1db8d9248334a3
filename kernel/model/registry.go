package model

import (
	"fmt"
	"strings"
)

// Stage identifies one step of a migration. The set of stages is closed;
// use ParseStage to turn user input into a Stage.
type Stage string

const (
	StageValidate      Stage = "validate"
	StageSnapshot      Stage = "snapshot"
	StageExport        Stage = "export"
	StageConvert       Stage = "convert"
	StageCleanTools    Stage = "clean_tools"
	StageInjectVirtio  Stage = "inject_virtio"
	StageFixBootloader Stage = "fix_bootloader"
	StageEnsureUEFI    Stage = "ensure_uefi"
	StageFixNetwork    Stage = "fix_network"
	StageUploadS3      Stage = "upload_s3"
	StageImportSCW     Stage = "import_scw"
	StageVerify        Stage = "verify"
	StageCleanup       Stage = "cleanup"
)

// stages is the declared execution order. convert must stay ahead of
// clean_tools (streamOptimized VMDKs are not readable by libguestfs) and
// fix_bootloader ahead of ensure_uefi.
var stages = []Stage{
	StageValidate,
	StageSnapshot,
	StageExport,
	StageConvert,
	StageCleanTools,
	StageInjectVirtio,
	StageFixBootloader,
	StageEnsureUEFI,
	StageFixNetwork,
	StageUploadS3,
	StageImportSCW,
	StageVerify,
	StageCleanup,
}

// orderingConstraints lists (before, after) pairs that every stage sequence
// must respect.
var orderingConstraints = [][2]Stage{
	{StageConvert, StageCleanTools},
	{StageFixBootloader, StageEnsureUEFI},
}

var stageIndex = func() map[Stage]int {
	idx := make(map[Stage]int, len(stages))
	for i, s := range stages {
		if _, dup := idx[s]; dup {
			panic("stage registered twice: " + string(s))
		}
		idx[s] = i
	}
	return idx
}()

// Stages returns a copy of the registry order.
func Stages() []Stage {
	out := make([]Stage, len(stages))
	copy(out, stages)
	return out
}

func (s Stage) String() string {
	return string(s)
}

// Known reports whether s belongs to the registry.
func (s Stage) Known() bool {
	_, ok := stageIndex[s]
	return ok
}

// Index returns the position of s in the registry order, or -1.
func (s Stage) Index() int {
	if i, ok := stageIndex[s]; ok {
		return i
	}
	return -1
}

// Skippable reports whether a caller may ask for s to be left out of a run.
func (s Stage) Skippable() bool {
	return s == StageValidate
}

// ParseStage resolves a stage name.
func ParseStage(name string) (Stage, error) {
	s := Stage(strings.TrimSpace(name))
	if !s.Known() {
		return "", fmt.Errorf("unknown stage '%s'", name)
	}
	return s, nil
}

// CheckOrder verifies that seq is strictly increasing in registry order and
// honours the ordering constraints.
func CheckOrder(seq []Stage) error {
	pos := make(map[Stage]int, len(seq))
	last := -1
	for i, s := range seq {
		idx := s.Index()
		if idx < 0 {
			return fmt.Errorf("unknown stage '%s'", s)
		}
		if idx <= last {
			return fmt.Errorf("stage '%s' out of order", s)
		}
		last = idx
		pos[s] = i
	}
	for _, c := range orderingConstraints {
		b, bok := pos[c[0]]
		a, aok := pos[c[1]]
		if bok && aok && b > a {
			return fmt.Errorf("stage '%s' must run before '%s'", c[0], c[1])
		}
	}
	return nil
}

// PlannedStage is one line of a dry-run rendering.
type PlannedStage struct {
	Position int
	Stage    Stage
	Skipped  bool
}

// PlanStages annotates the registry order with skip markers for plan.
func PlanStages(plan *MigrationPlan) []PlannedStage {
	out := make([]PlannedStage, 0, len(stages))
	for i, s := range stages {
		out = append(out, PlannedStage{
			Position: i + 1,
			Stage:    s,
			Skipped:  plan != nil && plan.SkipValidation && s == StageValidate,
		})
	}
	return out
}

// StagesToRun returns the registry order minus the stages plan skips.
func StagesToRun(plan *MigrationPlan) []Stage {
	var out []Stage
	for _, p := range PlanStages(plan) {
		if !p.Skipped {
			out = append(out, p.Stage)
		}
	}
	return out
}

// Remaining returns the stages still to execute for state: registry order
// minus completed stages minus stages the original run skipped.
func Remaining(state *MigrationState) []Stage {
	done := make(map[Stage]bool, len(state.CompletedStages))
	for _, s := range state.CompletedStages {
		done[s] = true
	}
	var out []Stage
	for _, s := range stages {
		if done[s] {
			continue
		}
		if state.SkipValidation && s == StageValidate {
			continue
		}
		out = append(out, s)
	}
	return out
}
