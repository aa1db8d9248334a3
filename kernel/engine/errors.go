package engine

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/vmware2scw/vmware2scw/kernel/model"
	"github.com/vmware2scw/vmware2scw/kernel/validate"
)

// ErrNotImplemented is returned for a stage that has no handler.
var ErrNotImplemented = errors.New("stage not implemented")

// ValidationError reports blocking pre-flight failures.
type ValidationError struct {
	VMName   string
	Failures []validate.Check
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		msgs = append(msgs, fmt.Sprintf("%s: %s", f.Name, f.Message))
	}
	return fmt.Sprintf("validation of '%s' failed: %s", e.VMName, strings.Join(msgs, "; "))
}

// MissingArtifactError is returned when a stage cannot run without an
// artifact an earlier stage should have produced.
type MissingArtifactError struct {
	Stage    model.Stage
	Artifact string
}

func (e *MissingArtifactError) Error() string {
	return fmt.Sprintf("stage '%s' requires artifact '%s', which has not been produced", e.Stage, e.Artifact)
}
