package models

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ResourceKind is the unique name of a type of resource e.g. "build" or "job".
type ResourceKind string

// ResourceID is an immutable, globally unique identifier of a resource,
// rendered as "kind:uuid".
type ResourceID struct {
	kind ResourceKind
	id   string
}

func NewResourceID(kind ResourceKind) ResourceID {
	return ResourceID{kind: kind, id: uuid.New().String()}
}

func ParseResourceID(str string) (ResourceID, error) {
	parts := strings.SplitN(str, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return ResourceID{}, errors.Errorf("error resource id must be in the format \"kind:id\": %q", str)
	}
	return ResourceID{kind: ResourceKind(parts[0]), id: parts[1]}, nil
}

func (s ResourceID) Kind() ResourceKind {
	return s.kind
}

func (s ResourceID) Valid() bool {
	return s.kind != "" && s.id != ""
}

func (s ResourceID) String() string {
	return fmt.Sprintf("%s:%s", s.kind, s.id)
}

// ShortID returns just the unique portion of the ID, without the kind.
// Safe for use in filesystem paths.
func (s ResourceID) ShortID() string {
	return s.id
}

func (s ResourceID) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", s.String())), nil
}

func (s *ResourceID) UnmarshalJSON(data []byte) error {
	str := strings.Trim(string(data), "\"")
	if str == "" || str == "null" {
		*s = ResourceID{}
		return nil
	}
	id, err := ParseResourceID(str)
	if err != nil {
		return err
	}
	*s = id
	return nil
}
