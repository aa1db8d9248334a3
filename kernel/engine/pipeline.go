package engine

import (
	"context"
	"time"

	"github.com/michaelquigley/pfxlog"
	"github.com/pkg/errors"
	"github.com/vmware2scw/vmware2scw/kernel/model"
	"github.com/vmware2scw/vmware2scw/kernel/store"
)

// Result is the outcome of Run or Resume. A stage failure is reported here,
// not as an error.
type Result struct {
	Success         bool
	MigrationId     string
	VMName          string
	InstanceId      string
	ImageId         string
	Duration        time.Duration
	FailedStage     model.Stage
	Error           error
	CompletedStages []model.Stage
}

// Pipeline sequences stages and checkpoints state around each of them.
type Pipeline struct {
	Store    store.StateStore
	Executor *Executor
	Now      func() time.Time
}

func NewPipeline(s store.StateStore, e *Executor) *Pipeline {
	return &Pipeline{Store: s, Executor: e, Now: time.Now}
}

// Run starts a new migration of plan.
func (p *Pipeline) Run(ctx context.Context, plan *model.MigrationPlan) (*Result, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	seq := model.StagesToRun(plan)
	if err := p.Executor.Check(seq); err != nil {
		return nil, err
	}

	state := model.NewMigrationState(plan, p.Now())
	pfxlog.ContextLogger(state.MigrationId).WithField("vm", plan.VMName).
		Infof("starting migration to %s in %s (%d stages)", plan.TargetType, plan.Zone, len(seq))
	if err := p.Store.Save(state); err != nil {
		return nil, errors.Wrap(err, "unable to persist initial state")
	}
	return p.execute(ctx, state, seq)
}

// Resume continues a migration from its first incomplete stage.
func (p *Pipeline) Resume(ctx context.Context, migrationId string) (*Result, error) {
	state, err := p.Store.Load(migrationId)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to resume '%s'", migrationId)
	}
	seq := model.Remaining(state)
	if err := p.Executor.Check(seq); err != nil {
		return nil, err
	}

	log := pfxlog.ContextLogger(state.MigrationId).WithField("vm", state.VMName)
	if len(seq) == 0 {
		log.Info("migration already completed")
	} else {
		log.Infof("resuming at stage '%s' (%d completed)", seq[0], len(state.CompletedStages))
	}
	state.Error = ""
	return p.execute(ctx, state, seq)
}

// DryRun lists the stages Run would execute for plan, without side effects.
func (p *Pipeline) DryRun(plan *model.MigrationPlan) []model.PlannedStage {
	return model.PlanStages(plan)
}

func (p *Pipeline) execute(ctx context.Context, state *model.MigrationState, seq []model.Stage) (*Result, error) {
	start := p.Now()
	plan := state.Plan()

	for i, stage := range seq {
		err := ctx.Err()
		if err == nil {
			state.CurrentStage = stage
			if err := p.Store.Save(state); err != nil {
				return nil, errors.Wrapf(err, "unable to persist state before '%s'", stage)
			}
			err = p.Executor.Execute(ctx, stage, plan, state)
		}
		if err != nil {
			state.Error = err.Error()
			if saveErr := p.Store.Save(state); saveErr != nil {
				pfxlog.ContextLogger(state.MigrationId).WithError(saveErr).Error("unable to persist failed state")
			}
			res := p.result(state, start)
			res.FailedStage = stage
			res.Error = err
			return res, nil
		}

		state.Complete(stage)
		if i == len(seq)-1 {
			state.CurrentStage = ""
		}
		if err := p.Store.Save(state); err != nil {
			return nil, errors.Wrapf(err, "unable to persist state after '%s'", stage)
		}
	}

	if state.CurrentStage != "" {
		state.CurrentStage = ""
		if err := p.Store.Save(state); err != nil {
			return nil, errors.Wrap(err, "unable to persist completed state")
		}
	}
	res := p.result(state, start)
	res.Success = true
	pfxlog.ContextLogger(state.MigrationId).Infof("migration completed in %s", res.Duration.Round(time.Second))
	return res, nil
}

func (p *Pipeline) result(state *model.MigrationState, start time.Time) *Result {
	return &Result{
		MigrationId:     state.MigrationId,
		VMName:          state.VMName,
		InstanceId:      state.Artifacts.ScalewayInstanceId,
		ImageId:         state.Artifacts.ScalewayImageId,
		Duration:        p.Now().Sub(start),
		CompletedStages: append([]model.Stage(nil), state.CompletedStages...),
	}
}
