// Package manifest parses pinned-dependency manifest files: plain text files
// listing one requirement per line, in the form "name<op>version" with
// optional extras, comma-separated version specifiers, environment markers
// after a semicolon and "#" comments.
package manifest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

var (
	requirementRegex = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9._-]*)\s*(\[[^]]*])?\s*(.*)$`)
	specifierRegex   = regexp.MustCompile(`^(==|>=|<=|!=|~=|>|<)\s*(\S+)$`)
)

// Specifier is a single version constraint within a requirement,
// e.g. ">=1.19" or "==4.5.0".
type Specifier struct {
	// Operator is one of ==, !=, >=, <=, >, < or ~= (compatible release).
	Operator string `json:"operator"`
	// Version is the version the operator compares against.
	Version string `json:"version"`
}

func (m *Specifier) String() string {
	return m.Operator + m.Version
}

// constraintString converts the specifier into the syntax understood by the
// semver library. "==" pins an exact version and "~=" accepts any version
// with the same leading components (a compatible release).
func (m *Specifier) constraintString() string {
	switch m.Operator {
	case "==":
		return "=" + m.Version
	case "~=":
		return "~" + m.Version
	default:
		return m.Operator + m.Version
	}
}

// Requirement is a single parsed manifest line.
type Requirement struct {
	// Name of the required package.
	Name string `json:"name"`
	// Extras optionally requested for the package, e.g. "full" in "lib[full]".
	Extras []string `json:"extras"`
	// Specifiers restrict the acceptable versions. Empty means any version.
	Specifiers []*Specifier `json:"specifiers"`
	// Marker is the raw environment marker following ";", if any.
	Marker string `json:"marker"`
	// Line is the 1-based line number the requirement was parsed from.
	Line int `json:"line"`
}

// Constraint compiles the requirement's specifiers into a semver constraint.
// A requirement without specifiers accepts any version.
func (m *Requirement) Constraint() (*semver.Constraints, error) {
	if len(m.Specifiers) == 0 {
		return semver.NewConstraint(">=0.0.0")
	}
	parts := make([]string, len(m.Specifiers))
	for i, specifier := range m.Specifiers {
		parts[i] = specifier.constraintString()
	}
	constraint, err := semver.NewConstraint(strings.Join(parts, ", "))
	if err != nil {
		return nil, errors.Wrapf(err, "error compiling version constraint for %q", m.Name)
	}
	return constraint, nil
}

// Check returns true if the given version satisfies the requirement.
func (m *Requirement) Check(version string) (bool, error) {
	constraint, err := m.Constraint()
	if err != nil {
		return false, err
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false, errors.Wrapf(err, "error parsing version %q", version)
	}
	return constraint.Check(v), nil
}

// IsPinned returns true if the requirement pins a single exact version.
func (m *Requirement) IsPinned() bool {
	for _, specifier := range m.Specifiers {
		if specifier.Operator == "==" {
			return true
		}
	}
	return false
}

// File is a parsed manifest file.
type File struct {
	// Path the manifest was read from, or empty if parsed from a reader.
	Path string `json:"path"`
	// Requirements in file order.
	Requirements []*Requirement `json:"requirements"`
}

// Get returns the requirement with the given package name, or nil.
// Package names are compared case-insensitively.
func (m *File) Get(name string) *Requirement {
	for _, requirement := range m.Requirements {
		if strings.EqualFold(requirement.Name, name) {
			return requirement
		}
	}
	return nil
}

// Validate checks that every specifier in the file compiles into a usable
// version constraint.
func (m *File) Validate() error {
	var result *multierror.Error
	for _, requirement := range m.Requirements {
		if _, err := requirement.Constraint(); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "error on line %d", requirement.Line))
		}
	}
	return result.ErrorOrNil()
}

// ParseFile reads and parses the manifest at the given path.
func ParseFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error opening manifest %q", path)
	}
	defer f.Close()
	file, err := Parse(f)
	if err != nil {
		return nil, errors.Wrapf(err, "error parsing manifest %q", path)
	}
	file.Path = path
	return file, nil
}

// Parse parses manifest content from a reader.
func Parse(r io.Reader) (*File, error) {
	var (
		file   = &File{}
		result *multierror.Error
	)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		requirement, err := parseRequirement(line)
		if err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "error on line %d", lineNo))
			continue
		}
		requirement.Line = lineNo
		file.Requirements = append(file.Requirements, requirement)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "error reading manifest")
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return file, nil
}

func parseRequirement(line string) (*Requirement, error) {
	requirement := &Requirement{}
	if i := strings.Index(line, ";"); i >= 0 {
		requirement.Marker = strings.TrimSpace(line[i+1:])
		line = strings.TrimSpace(line[:i])
	}
	match := requirementRegex.FindStringSubmatch(line)
	if match == nil {
		return nil, errors.Errorf("Unable to parse requirement %q", line)
	}
	requirement.Name = match[1]
	if match[2] != "" {
		extras := strings.Trim(match[2], "[]")
		for _, extra := range strings.Split(extras, ",") {
			extra = strings.TrimSpace(extra)
			if extra != "" {
				requirement.Extras = append(requirement.Extras, extra)
			}
		}
	}
	rest := strings.TrimSpace(match[3])
	if rest == "" {
		return requirement, nil
	}
	for _, part := range strings.Split(rest, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, errors.Errorf("Empty version specifier in requirement %q", line)
		}
		specMatch := specifierRegex.FindStringSubmatch(part)
		if specMatch == nil {
			return nil, errors.Errorf("Unable to parse version specifier %q in requirement %q", part, line)
		}
		requirement.Specifiers = append(requirement.Specifiers, &Specifier{
			Operator: specMatch[1],
			Version:  specMatch[2],
		})
	}
	return requirement, nil
}

// CheckInstalled verifies a set of installed package versions against the
// manifest, returning one error per unsatisfied requirement. Packages not
// mentioned in the manifest are ignored.
func (m *File) CheckInstalled(installed map[string]string) error {
	var result *multierror.Error
	for _, requirement := range m.Requirements {
		version, ok := installed[strings.ToLower(requirement.Name)]
		if !ok {
			continue
		}
		ok, err := requirement.Check(version)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if !ok {
			result = multierror.Append(result, fmt.Errorf(
				"error installed version %s of %q does not satisfy %s", version, requirement.Name, requirementSpecifiers(requirement)))
		}
	}
	return result.ErrorOrNil()
}

func requirementSpecifiers(requirement *Requirement) string {
	parts := make([]string, len(requirement.Specifiers))
	for i, specifier := range requirement.Specifiers {
		parts[i] = specifier.String()
	}
	return strings.Join(parts, ",")
}
