package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyorci/conveyor/common/models"
)

func TestHomeifyPath(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	tests := []struct {
		name     string
		path     string
		expected string
	}{
		{name: "tilde prefix", path: "~/.conveyor", expected: "/home/tester/.conveyor"},
		{name: "short tilde path", path: "~/x", expected: "/home/tester/x"},
		{name: "bare tilde", path: "~/", expected: "/home/tester"},
		{name: "home variable", path: "$HOME/work", expected: "/home/tester/work"},
		{name: "bare home variable", path: "$HOME", expected: "/home/tester"},
		{name: "absolute path untouched", path: "/var/lib/conveyor", expected: "/var/lib/conveyor"},
		{name: "relative path untouched", path: "scratch", expected: "scratch"},
		{name: "empty path untouched", path: "", expected: ""},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			actual, err := HomeifyPath(test.path)
			require.NoError(t, err)
			assert.Equal(t, test.expected, actual)
		})
	}
}

func TestParseNodeFQNs(t *testing.T) {
	fqns, err := ParseNodeFQNs([]string{"test", "docs.build"})
	require.NoError(t, err)
	require.Len(t, fqns, 2)
	assert.Equal(t, models.ResourceName("docs"), fqns[0].JobName)
	assert.Equal(t, models.ResourceName("build"), fqns[0].StepName)
	assert.Equal(t, models.ResourceName("test"), fqns[1].JobName)

	_, err = ParseNodeFQNs([]string{"not a name!"})
	require.Error(t, err)
}

func TestLoadDefinition(t *testing.T) {
	repoDir := t.TempDir()
	config := `
version: "1"
name: ci
jobs:
  - name: build
    steps:
      - name: compile
        commands: [make]
`
	require.NoError(t, os.WriteFile(filepath.Join(repoDir, ".conveyor.yaml"), []byte(config), 0644))

	definition, err := LoadDefinition(repoDir)
	require.NoError(t, err)
	assert.Equal(t, models.ResourceName("ci"), definition.Name)
	require.Len(t, definition.Jobs, 1)
	assert.Equal(t, models.ResourceName("build"), definition.Jobs[0].Name)
}

func TestLoadDefinitionNoConfig(t *testing.T) {
	_, err := LoadDefinition(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no pipeline configuration file was found")
}
