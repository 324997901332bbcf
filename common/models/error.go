package models

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Error is a serializable wrapper around an error, recorded against
// builds, jobs and steps that finish unsuccessfully.
type Error struct {
	err error
}

func NewError(err error) *Error {
	return &Error{err: err}
}

func (e *Error) Error() string {
	if e == nil || e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e *Error) MarshalJSON() ([]byte, error) {
	if !e.Valid() {
		return json.Marshal(nil)
	}
	return json.Marshal(e.Error())
}

func (e *Error) UnmarshalJSON(data []byte) error {
	var m string
	err := json.Unmarshal(data, &m)
	if err != nil {
		return err
	}
	if m != "" {
		e.err = errors.New(m)
	}
	return nil
}

func (e *Error) Valid() bool {
	return e != nil && e.err != nil && e.err.Error() != ""
}
