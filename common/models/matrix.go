package models

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// MatrixDefinition declares the dimensions of a matrix job. The job template
// is instantiated once per combination of dimension values.
type MatrixDefinition map[string][]string

func (m MatrixDefinition) Validate() error {
	var result *multierror.Error
	for key, values := range m {
		if !ResourceNameRegex.MatchString(key) {
			result = multierror.Append(result, fmt.Errorf("Matrix dimension name %q must only contain alphanumeric, dash or underscore characters", key))
		}
		if len(values) == 0 {
			result = multierror.Append(result, fmt.Errorf("Matrix dimension %q must declare at least one value", key))
		}
		seen := make(map[string]bool, len(values))
		for _, value := range values {
			if value == "" {
				result = multierror.Append(result, fmt.Errorf("Matrix dimension %q must not contain empty values", key))
			}
			if seen[value] {
				result = multierror.Append(result, fmt.Errorf("Matrix dimension %q contains duplicate value %q", key, value))
			}
			seen[value] = true
		}
	}
	return result.ErrorOrNil()
}

// Keys returns the dimension names in sorted order so that matrix
// expansion is deterministic.
func (m MatrixDefinition) Keys() []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Expand returns one combination per element of the cross product of all
// dimension values. Dimension names are visited in sorted order and value
// order is preserved, so the result is deterministic. An empty matrix
// expands to no combinations.
func (m MatrixDefinition) Expand() []MatrixCombination {
	if len(m) == 0 {
		return nil
	}
	keys := m.Keys()
	combinations := []MatrixCombination{{}}
	for _, key := range keys {
		var next []MatrixCombination
		for _, combination := range combinations {
			for _, value := range m[key] {
				expanded := make(MatrixCombination, len(combination)+1)
				for k, v := range combination {
					expanded[k] = v
				}
				expanded[key] = value
				next = append(next, expanded)
			}
		}
		combinations = next
	}
	return combinations
}

// MatrixCombination is a single assignment of one value per matrix dimension.
type MatrixCombination map[string]string

// InstanceSuffix returns the name suffix identifying this combination,
// e.g. {"python": "3.10", "case": "core"} becomes "3-10-core".
func (m MatrixCombination) InstanceSuffix() ResourceName {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, NormalizeResourceName(m[key]).String())
	}
	return ResourceName(strings.Join(parts, "-"))
}

// Get returns the value assigned to the named dimension.
func (m MatrixCombination) Get(key string) (string, error) {
	value, ok := m[key]
	if !ok {
		return "", errors.Errorf("error unknown matrix dimension: %s", key)
	}
	return value, nil
}
