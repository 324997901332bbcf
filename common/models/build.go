package models

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

const BuildResourceKind ResourceKind = "build"

type BuildID struct {
	ResourceID
}

func NewBuildID() BuildID {
	return BuildID{ResourceID: NewResourceID(BuildResourceKind)}
}

func ParseBuildID(str string) (BuildID, error) {
	resourceID, err := ParseResourceID(str)
	if err != nil {
		return BuildID{}, fmt.Errorf("error parsing Build ID: %w", err)
	}
	return BuildID{ResourceID: resourceID}, nil
}

// Build represents a single execution of a pipeline: the set of job
// instances produced by matrix expansion, plus overall status and timings.
type Build struct {
	ID        BuildID   `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	// PipelineName is the name of the pipeline this build was generated from.
	PipelineName ResourceName `json:"pipeline_name"`
	// Ref is the git ref the build runs against (e.g. branch or tag).
	Ref string `json:"ref"`
	// Event is the repository event that triggered the build.
	Event Event `json:"event"`
	// Status reflects where the build is in processing.
	Status Status `json:"status"`
	// Error is set if the build finished with an error (or nil if the build succeeded).
	Error *Error `json:"error"`
	// Timings records the times at which the build transitioned between statuses.
	Timings Timings `json:"timings"`
}

func NewBuild(pipelineName ResourceName, event Event, ref string, now time.Time) *Build {
	return &Build{
		ID:           NewBuildID(),
		CreatedAt:    now,
		PipelineName: pipelineName,
		Ref:          ref,
		Event:        event,
		Status:       StatusQueued,
		Timings:      Timings{QueuedAt: &now},
	}
}

func (m *Build) Validate() error {
	var result *multierror.Error
	if !m.ID.Valid() {
		result = multierror.Append(result, errors.New("error id must be set"))
	}
	if m.CreatedAt.IsZero() {
		result = multierror.Append(result, errors.New("error created at must be set"))
	}
	if err := m.PipelineName.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if !m.Event.Valid() {
		result = multierror.Append(result, errors.New("error event is invalid"))
	}
	if !m.Status.Valid() {
		result = multierror.Append(result, errors.New("error status is invalid"))
	}
	return result.ErrorOrNil()
}

// BuildOptions controls which parts of a pipeline a build will run.
type BuildOptions struct {
	// Event is the repository event to evaluate triggers against.
	Event Event
	// Ref is the git ref the build runs against.
	Ref string
	// NodesToRun optionally restricts the build to the named jobs (and their
	// transitive dependencies). Empty means run everything.
	NodesToRun []NodeFQN
	// Force re-runs jobs even when an identical fingerprint has already succeeded.
	Force bool
}
