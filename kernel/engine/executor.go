package engine

import (
	"context"
	"sort"
	"time"

	"github.com/michaelquigley/pfxlog"
	"github.com/pkg/errors"
	"github.com/vmware2scw/vmware2scw/kernel/model"
)

// Handler performs one stage. It reads the artifacts it needs from state,
// records the ones it produces there and must be safe to invoke again after a
// partial failure.
type Handler interface {
	Execute(ctx context.Context, plan *model.MigrationPlan, state *model.MigrationState) error
}

type HandlerFunc func(ctx context.Context, plan *model.MigrationPlan, state *model.MigrationState) error

func (f HandlerFunc) Execute(ctx context.Context, plan *model.MigrationPlan, state *model.MigrationState) error {
	return f(ctx, plan, state)
}

// Executor dispatches a stage to its handler.
type Executor struct {
	handlers map[model.Stage]Handler
}

// NewExecutor binds handlers to stages. A handler for a stage outside the
// registry is rejected.
func NewExecutor(handlers map[model.Stage]Handler) (*Executor, error) {
	if err := model.CheckOrder(model.Stages()); err != nil {
		return nil, errors.Wrap(err, "stage registry is inconsistent")
	}
	e := &Executor{handlers: make(map[model.Stage]Handler, len(handlers))}
	for stage, h := range handlers {
		if !stage.Known() {
			return nil, errors.Errorf("handler registered for unknown stage '%s'", stage)
		}
		if h == nil {
			return nil, errors.Errorf("nil handler for stage '%s'", stage)
		}
		e.handlers[stage] = h
	}
	if missing := e.Missing(); len(missing) > 0 {
		pfxlog.Logger().Warnf("stages without handler: %v", missing)
	}
	return e, nil
}

// Missing lists registry stages without a handler, in registry order.
func (e *Executor) Missing() []model.Stage {
	var out []model.Stage
	for _, s := range model.Stages() {
		if _, ok := e.handlers[s]; !ok {
			out = append(out, s)
		}
	}
	return out
}

// Check verifies that every stage in seq has a handler.
func (e *Executor) Check(seq []model.Stage) error {
	var missing []string
	for _, s := range seq {
		if _, ok := e.handlers[s]; !ok {
			missing = append(missing, string(s))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return errors.Wrapf(ErrNotImplemented, "%v", missing)
	}
	return nil
}

func (e *Executor) Execute(ctx context.Context, stage model.Stage, plan *model.MigrationPlan, state *model.MigrationState) error {
	h, ok := e.handlers[stage]
	if !ok {
		return errors.Wrapf(ErrNotImplemented, "'%s'", stage)
	}
	log := pfxlog.ContextLogger(state.MigrationId).WithField("stage", stage)
	log.Info("starting")
	start := time.Now()
	if err := h.Execute(ctx, plan, state); err != nil {
		log.WithError(err).Errorf("failed after %s", time.Since(start).Round(time.Millisecond))
		return err
	}
	log.Infof("completed in %s", time.Since(start).Round(time.Millisecond))
	return nil
}
