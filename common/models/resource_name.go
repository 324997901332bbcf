package models

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

const resourceNameMaxLength = 100
const ResourceNameRegexStr = "^[a-zA-Z0-9_-]{1,100}$"

var ResourceNameRegex = regexp.MustCompile(ResourceNameRegexStr)

// ResourceName is a mutable, human-specified identifier of a resource.
// ResourceName must conform to length and character set requirements (see
// resourceNameMaxLength and ResourceNameRegex). ResourceName is unique within
// a parent collection e.g. a job's name must be unique within its pipeline.
type ResourceName string

func (s ResourceName) String() string {
	return string(s)
}

func (s ResourceName) Valid() bool {
	return s.Validate() == nil
}

func (s ResourceName) Validate() error {
	if s == "" {
		return errors.New("error name must be set")
	}
	if len(s) > resourceNameMaxLength {
		return fmt.Errorf("error name must not exceed %d characters", resourceNameMaxLength)
	}
	if !ResourceNameRegex.MatchString(s.String()) {
		return fmt.Errorf("error name must only contain alphanumeric, dash or underscore characters: '%s'", s)
	}
	return nil
}

const replacementChar = "-"
const allowedChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-_"

// NormalizeResourceName converts an arbitrary string (such as a matrix value
// like "3.10" or "test_core.py") into a valid ResourceName.
func NormalizeResourceName(str string) ResourceName {
	if len(str) > resourceNameMaxLength {
		str = str[:resourceNameMaxLength]
	}
	var out string
	for _, s := range str {
		if !strings.Contains(allowedChars, string(s)) {
			out += replacementChar
		} else {
			out += string(s)
		}
	}
	return ResourceName(out)
}
