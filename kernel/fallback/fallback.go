// Package fallback runs alternative strategies for the same outcome: the
// first one that succeeds wins, and every failure is logged and kept.
package fallback

import (
	"context"
	"fmt"
	"strings"

	"github.com/michaelquigley/pfxlog"
)

// Strategy is one way of achieving a result.
type Strategy struct {
	Name string
	Run  func(ctx context.Context) error
}

// Failure records why a strategy did not succeed.
type Failure struct {
	Strategy string
	Err      error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Strategy, f.Err)
}

// ExhaustedError is returned when no strategy succeeded.
type ExhaustedError struct {
	Failures []Failure
}

func (e *ExhaustedError) Error() string {
	if len(e.Failures) == 0 {
		return "no strategy to attempt"
	}
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Error())
	}
	return fmt.Sprintf("all %d strategies failed: %s", len(e.Failures), strings.Join(parts, "; "))
}

// FirstSuccess attempts strategies in order and returns the name of the first
// one that succeeds. A cancelled context stops the chain.
func FirstSuccess(ctx context.Context, strategies ...Strategy) (string, error) {
	log := pfxlog.Logger()
	exhausted := &ExhaustedError{}
	for i, s := range strategies {
		if err := ctx.Err(); err != nil {
			exhausted.Failures = append(exhausted.Failures, Failure{Strategy: s.Name, Err: err})
			return "", exhausted
		}
		log.Debugf("attempting strategy %d/%d [%s]", i+1, len(strategies), s.Name)
		err := s.Run(ctx)
		if err == nil {
			if i > 0 {
				log.Infof("strategy [%s] succeeded after %d failure(s)", s.Name, i)
			}
			return s.Name, nil
		}
		log.WithError(err).Warnf("strategy [%s] failed", s.Name)
		exhausted.Failures = append(exhausted.Failures, Failure{Strategy: s.Name, Err: err})
	}
	return "", exhausted
}

// EachTolerant runs every unit regardless of earlier failures and returns the
// failures. Only context cancellation stops it early.
func EachTolerant(ctx context.Context, units ...Strategy) []Failure {
	log := pfxlog.Logger()
	var failures []Failure
	for _, u := range units {
		if err := ctx.Err(); err != nil {
			failures = append(failures, Failure{Strategy: u.Name, Err: err})
			continue
		}
		if err := u.Run(ctx); err != nil {
			log.WithError(err).Warnf("unit [%s] failed, continuing", u.Name)
			failures = append(failures, Failure{Strategy: u.Name, Err: err})
		}
	}
	return failures
}
