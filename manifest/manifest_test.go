package manifest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const referenceManifest = `
# Documentation build dependencies
sphinx==4.5.0
sphinx_rtd_theme>=1.0,<2.0
m2r2
numpydoc~=1.2
graphviz>=0.17 ; python_version >= "3.8"
docutils[extended]==0.16  # pinned for theme compatibility
`

func TestParseManifest(t *testing.T) {
	file, err := Parse(strings.NewReader(referenceManifest))
	require.NoError(t, err)
	require.Len(t, file.Requirements, 6)

	sphinx := file.Get("sphinx")
	require.NotNil(t, sphinx)
	require.Equal(t, 3, sphinx.Line)
	require.Len(t, sphinx.Specifiers, 1)
	require.Equal(t, "==", sphinx.Specifiers[0].Operator)
	require.Equal(t, "4.5.0", sphinx.Specifiers[0].Version)
	require.True(t, sphinx.IsPinned())

	theme := file.Get("sphinx_rtd_theme")
	require.NotNil(t, theme)
	require.Len(t, theme.Specifiers, 2)
	require.Equal(t, ">=", theme.Specifiers[0].Operator)
	require.Equal(t, "1.0", theme.Specifiers[0].Version)
	require.Equal(t, "<", theme.Specifiers[1].Operator)
	require.Equal(t, "2.0", theme.Specifiers[1].Version)
	require.False(t, theme.IsPinned())

	m2r2 := file.Get("m2r2")
	require.NotNil(t, m2r2)
	require.Empty(t, m2r2.Specifiers)

	graphviz := file.Get("graphviz")
	require.NotNil(t, graphviz)
	require.Equal(t, `python_version >= "3.8"`, graphviz.Marker)

	docutils := file.Get("docutils")
	require.NotNil(t, docutils)
	require.Equal(t, []string{"extended"}, docutils.Extras)
	require.True(t, docutils.IsPinned())

	// Lookups are case-insensitive; unknown packages return nil
	require.NotNil(t, file.Get("Sphinx"))
	require.Nil(t, file.Get("ghost"))
}

func TestRequirementCheck(t *testing.T) {
	file, err := Parse(strings.NewReader(referenceManifest))
	require.NoError(t, err)

	tests := []struct {
		name      string
		version   string
		satisfied bool
	}{
		{name: "sphinx", version: "4.5.0", satisfied: true},
		{name: "sphinx", version: "4.5.1", satisfied: false},
		{name: "sphinx_rtd_theme", version: "1.2.0", satisfied: true},
		{name: "sphinx_rtd_theme", version: "2.0.0", satisfied: false},
		{name: "m2r2", version: "0.3.2", satisfied: true},
		{name: "numpydoc", version: "1.2.1", satisfied: true},
		{name: "numpydoc", version: "1.3.0", satisfied: false},
	}
	for _, test := range tests {
		requirement := file.Get(test.name)
		require.NotNil(t, requirement)
		ok, err := requirement.Check(test.version)
		require.NoError(t, err, "checking %s %s", test.name, test.version)
		assert.Equal(t, test.satisfied, ok, "%s %s", test.name, test.version)
	}
}

func TestParseManifestErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "bad operator", content: "sphinx=4.5.0"},
		{name: "trailing comma", content: "sphinx==4.5.0,"},
		{name: "missing version", content: "sphinx=="},
		{name: "leading operator", content: "==4.5.0"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(test.content))
			require.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	file, err := Parse(strings.NewReader(referenceManifest))
	require.NoError(t, err)
	require.NoError(t, file.Validate())

	// A specifier that parses as a requirement line but not as a version
	// constraint is caught by Validate.
	file, err = Parse(strings.NewReader("sphinx==not.a.version"))
	require.NoError(t, err)
	require.Error(t, file.Validate())
}

func TestCheckInstalled(t *testing.T) {
	file, err := Parse(strings.NewReader(referenceManifest))
	require.NoError(t, err)

	err = file.CheckInstalled(map[string]string{
		"sphinx":           "4.5.0",
		"sphinx_rtd_theme": "1.1.0",
	})
	require.NoError(t, err)

	err = file.CheckInstalled(map[string]string{
		"sphinx": "5.0.0",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sphinx")
}
