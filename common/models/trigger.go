package models

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v2"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

const (
	EventPush        Event = "push"
	EventPullRequest Event = "pull_request"
	EventManual      Event = "manual"
)

// Event identifies the kind of repository event that can trigger a pipeline.
type Event string

func ParseEvent(str string) (Event, error) {
	switch strings.ToLower(str) {
	case string(EventPush):
		return EventPush, nil
	case string(EventPullRequest):
		return EventPullRequest, nil
	case "", string(EventManual):
		return EventManual, nil
	default:
		return "", errors.Errorf("error unknown event: %s", str)
	}
}

func (s Event) Valid() bool {
	return s == EventPush || s == EventPullRequest || s == EventManual
}

func (s Event) String() string {
	return string(s)
}

// TriggerFilter restricts the refs an event will trigger the pipeline for.
// Branch patterns are doublestar globs; an empty list matches all refs.
type TriggerFilter struct {
	Branches []string `json:"branches"`
}

// Matches returns true if the filter accepts the given ref.
func (m *TriggerFilter) Matches(ref string) (bool, error) {
	if len(m.Branches) == 0 {
		return true, nil
	}
	for _, pattern := range m.Branches {
		ok, err := doublestar.Match(pattern, ref)
		if err != nil {
			return false, errors.Wrapf(err, "error matching branch pattern %q", pattern)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (m *TriggerFilter) Validate() error {
	var result *multierror.Error
	for _, pattern := range m.Branches {
		if pattern == "" {
			result = multierror.Append(result, errors.New("Branch pattern must not be empty"))
			continue
		}
		_, err := doublestar.Match(pattern, "main")
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("Branch pattern %q is not a valid glob: %v", pattern, err))
		}
	}
	return result.ErrorOrNil()
}

// TriggerDefinition declares which repository events run the pipeline.
// A nil filter for an event means the pipeline does not run on that event.
// Manual runs are always allowed.
type TriggerDefinition struct {
	Push        *TriggerFilter `json:"push"`
	PullRequest *TriggerFilter `json:"pull_request"`
}

// ShouldRun returns true if the pipeline should run for the given event and ref.
func (m *TriggerDefinition) ShouldRun(event Event, ref string) (bool, error) {
	if event == EventManual {
		return true, nil
	}
	var filter *TriggerFilter
	switch event {
	case EventPush:
		filter = m.Push
	case EventPullRequest:
		filter = m.PullRequest
	default:
		return false, errors.Errorf("error unknown event: %s", event)
	}
	if filter == nil {
		return false, nil
	}
	return filter.Matches(ref)
}

func (m *TriggerDefinition) Validate() error {
	var result *multierror.Error
	if m.Push != nil {
		if err := m.Push.Validate(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if m.PullRequest != nil {
		if err := m.PullRequest.Validate(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
