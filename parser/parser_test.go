package parser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyorci/conveyor/common/models"
)

const referencePipelineYAML = `
version: "1"
name: ci
on:
  push:
    branches: [master]
  pull_request:
    branches: ["*"]
jobs:
  - name: static
    docker:
      image: python:3.9
      pull: if-not-exists
    steps:
      - name: preflight
        commands:
          - pip install flake8
          - flake8 .
  - name: test
    docker:
      image: python:${{ matrix.python }}
      pull: if-not-exists
    needs:
      - static
    matrix:
      python: ["3.9", "3.10"]
      case: [test_core.py, test_pipelines.py]
    env:
      PYTHONWARNINGS: ignore
      INDEX_TOKEN:
        from_secret: INDEX_TOKEN
    uses:
      - test/${{ matrix.case }}
    manifests:
      - requirements.txt
    steps:
      - name: install
        commands:
          - pip install -r requirements.txt
      - name: run
        depends: [install]
        commands: python -m pytest -v test/${{ matrix.case }}
  - name: docs
    docker:
      image: python:3.9
    continue_on_error: true
    manifests:
      - docs/requirements.txt
    steps:
      - name: build
        commands:
          - sphinx-build docs docs/_build
    artifacts:
      - name: html
        paths: [docs/_build/**]
  - name: dist
    docker:
      image: python:3.9
    needs:
      - jobs.test
    steps:
      - name: build
        commands:
          - python -m build
    artifacts:
      - name: wheels
        paths: [dist/*.whl, dist/*.tar.gz]
publish:
  index_url: https://upload.example.org/legacy/
  artifacts: wheels
  token_secret: INDEX_TOKEN
  needs: [static, test, dist]
`

const referencePipelineJSON = `{
  "version": "1",
  "name": "ci",
  "jobs": [
    {
      "name": "build",
      "docker": {"image": "golang:1.19", "pull": "if-not-exists"},
      "steps": [{"name": "compile", "commands": ["go build ./..."]}],
      "artifacts": [{"name": "bin", "paths": ["out/**"]}]
    },
    {
      "name": "smoke",
      "type": "exec",
      "needs": ["jobs.build.artifacts.bin"],
      "continue_on_error": true,
      "steps": [{"name": "run", "commands": "./out/app --version"}]
    }
  ]
}`

const referencePipelineJSONNET = `
local job(name) = {
  name: name,
  docker: { image: 'alpine:3.17' },
  steps: [{ name: 'run', commands: ['true'] }],
};
{
  version: '1',
  name: 'generated',
  jobs: [job('a'), job('b') { needs: ['a'] }],
}`

func TestParsePipelineYAML(t *testing.T) {
	p := NewPipelineParser(ParserLimits{})
	definition, err := p.Parse([]byte(referencePipelineYAML), models.ConfigTypeYAML)
	require.NoError(t, err)

	require.Equal(t, "1", definition.Version)
	require.Equal(t, models.ResourceName("ci"), definition.Name)
	require.NotNil(t, definition.Triggers.Push)
	require.Equal(t, []string{"master"}, definition.Triggers.Push.Branches)
	require.NotNil(t, definition.Triggers.PullRequest)
	require.Equal(t, []string{"*"}, definition.Triggers.PullRequest.Branches)
	require.Len(t, definition.Jobs, 4)

	static := definition.GetJob("static")
	require.NotNil(t, static)
	require.Equal(t, models.JobTypeDocker, static.Type)
	require.Equal(t, "python:3.9", static.DockerImage)
	require.Equal(t, models.DockerPullStrategyIfNotExists, static.DockerImagePullStrategy)
	require.Len(t, static.Steps, 1)
	require.Equal(t, models.Commands{"pip install flake8", "flake8 ."}, static.Steps[0].Commands)

	test := definition.GetJob("test")
	require.NotNil(t, test)
	require.Equal(t, "python:${{ matrix.python }}", test.DockerImage)
	require.Equal(t, models.MatrixDefinition{
		"python": {"3.9", "3.10"},
		"case":   {"test_core.py", "test_pipelines.py"},
	}, test.MatrixDefinition)
	require.Len(t, test.Depends, 1)
	require.Equal(t, models.ResourceName("static"), test.Depends[0].JobName)
	require.Len(t, test.Environment, 2)
	// env entries come out sorted by name
	require.Equal(t, "INDEX_TOKEN", test.Environment[0].Name)
	require.Equal(t, "INDEX_TOKEN", test.Environment[0].ValueFromSecret)
	require.Equal(t, "PYTHONWARNINGS", test.Environment[1].Name)
	require.Equal(t, "ignore", test.Environment[1].Value)
	require.Equal(t, []string{"test/${{ matrix.case }}"}, test.UsesPaths)
	require.Equal(t, []string{"requirements.txt"}, test.Manifests)
	require.Len(t, test.Steps, 2)
	require.Len(t, test.Steps[1].Depends, 1)
	require.Equal(t, models.ResourceName("install"), test.Steps[1].Depends[0].StepName)
	// A single command string is accepted in place of an array
	require.Equal(t, models.Commands{"python -m pytest -v test/${{ matrix.case }}"}, test.Steps[1].Commands)

	docs := definition.GetJob("docs")
	require.NotNil(t, docs)
	require.True(t, docs.ContinueOnError)
	require.Len(t, docs.ArtifactDefinitions, 1)
	require.Equal(t, models.ResourceName("html"), docs.ArtifactDefinitions[0].GroupName)

	dist := definition.GetJob("dist")
	require.NotNil(t, dist)
	require.Len(t, dist.Depends, 1)
	require.Equal(t, models.ResourceName("test"), dist.Depends[0].JobName)

	require.NotNil(t, definition.Publish)
	require.Equal(t, "https://upload.example.org/legacy/", definition.Publish.IndexURL)
	require.Equal(t, models.ResourceName("wheels"), definition.Publish.ArtifactGroup)
	require.Equal(t, "INDEX_TOKEN", definition.Publish.TokenSecret)
	require.Equal(t, []models.ResourceName{"static", "test", "dist"}, definition.Publish.Needs)
}

func TestParsePipelineJSON(t *testing.T) {
	p := NewPipelineParser(ParserLimits{})
	definition, err := p.Parse([]byte(referencePipelineJSON), models.ConfigTypeJSON)
	require.NoError(t, err)
	require.Len(t, definition.Jobs, 2)

	smoke := definition.GetJob("smoke")
	require.NotNil(t, smoke)
	require.Equal(t, models.JobTypeExec, smoke.Type)
	require.True(t, smoke.ContinueOnError)
	require.Len(t, smoke.Depends, 1)
	require.Equal(t, models.ResourceName("build"), smoke.Depends[0].JobName)
	require.Len(t, smoke.Depends[0].ArtifactDependencies, 1)
	require.Equal(t, models.ResourceName("bin"), smoke.Depends[0].ArtifactDependencies[0].GroupName)
}

func TestParsePipelineJSONNET(t *testing.T) {
	p := NewPipelineParser(ParserLimits{})
	definition, err := p.Parse([]byte(referencePipelineJSONNET), models.ConfigTypeJSONNET)
	require.NoError(t, err)
	require.Len(t, definition.Jobs, 2)
	require.Equal(t, models.ResourceName("generated"), definition.Name)
	b := definition.GetJob("b")
	require.NotNil(t, b)
	require.Len(t, b.Depends, 1)
	require.Equal(t, models.ResourceName("a"), b.Depends[0].JobName)
}

func TestParseDependsSyntax(t *testing.T) {
	tests := []struct {
		entry     string
		jobName   models.ResourceName
		artifacts bool
		group     models.ResourceName
		wantErr   bool
	}{
		{entry: "build", jobName: "build"},
		{entry: "jobs.build", jobName: "build"},
		{entry: "build.artifacts", jobName: "build", artifacts: true},
		{entry: "jobs.build.artifacts", jobName: "build", artifacts: true},
		{entry: "jobs.build.artifacts.bin", jobName: "build", artifacts: true, group: "bin"},
		{entry: "jobs.build.artifacts.bin.extra", wantErr: true},
		{entry: "jobs..artifacts", wantErr: true},
	}
	for _, test := range tests {
		t.Run(test.entry, func(t *testing.T) {
			jobName, artifact, err := parseJobDependency(test.entry)
			if test.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, test.jobName, jobName)
			if test.artifacts {
				require.NotNil(t, artifact)
				require.Equal(t, test.group, artifact.GroupName)
			} else {
				require.Nil(t, artifact)
			}
		})
	}
}

func TestParseVersionHandling(t *testing.T) {
	p := NewPipelineParser(ParserLimits{})

	// Unquoted YAML version numbers are normalized to strings
	definition, err := p.Parse([]byte(`
version: 1
jobs:
  - name: a
    steps:
      - name: run
        commands: ["true"]
`), models.ConfigTypeYAML)
	require.NoError(t, err)
	require.Equal(t, "1", definition.Version)

	// A missing version gets the default
	definition, err = p.Parse([]byte(`
jobs:
  - name: a
    steps:
      - name: run
        commands: ["true"]
`), models.ConfigTypeYAML)
	require.NoError(t, err)
	require.Equal(t, "1", definition.Version)

	// Unsupported versions are rejected
	_, err = p.Parse([]byte(`
version: "9"
jobs: []
`), models.ConfigTypeYAML)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version 9 not supported")
}

func TestParseErrors(t *testing.T) {
	p := NewPipelineParser(ParserLimits{})
	tests := []struct {
		name   string
		config string
	}{
		{name: "no jobs list", config: `{"version": "1"}`},
		{name: "top-level array", config: `[1, 2]`},
		{name: "jobs not an array", config: `{"version": "1", "jobs": {"name": "a"}}`},
		{name: "duplicate job names", config: `{"version": "1", "jobs": [
			{"name": "a", "steps": [{"name": "s", "commands": ["true"]}]},
			{"name": "a", "steps": [{"name": "s", "commands": ["true"]}]}]}`},
		{name: "unknown dependency", config: `{"version": "1", "jobs": [
			{"name": "a", "needs": ["ghost"], "steps": [{"name": "s", "commands": ["true"]}]}]}`},
		{name: "step without commands", config: `{"version": "1", "jobs": [
			{"name": "a", "steps": [{"name": "s"}]}]}`},
		{name: "env var with array value", config: `{"version": "1", "jobs": [
			{"name": "a", "env": {"X": ["a", "b"]}, "steps": [{"name": "s", "commands": ["true"]}]}]}`},
		{name: "publish with relative url", config: `{"version": "1",
			"publish": {"index_url": "upload/legacy", "token_secret": "T", "needs": ["a"]},
			"jobs": [{"name": "a", "steps": [{"name": "s", "commands": ["true"]}]}]}`},
		{name: "publish needs unknown job", config: `{"version": "1",
			"publish": {"index_url": "https://upload.example.org/", "token_secret": "T", "needs": ["ghost"]},
			"jobs": [{"name": "a", "steps": [{"name": "s", "commands": ["true"]}]}]}`},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := p.Parse([]byte(test.config), models.ConfigTypeJSON)
			require.Error(t, err)
		})
	}
}

func TestParserLimits(t *testing.T) {
	p := NewPipelineParser(ParserLimits{MaxJobsPerPipeline: 1})
	_, err := p.Parse([]byte(`{"version": "1", "jobs": [
		{"name": "a", "steps": [{"name": "s", "commands": ["true"]}]},
		{"name": "b", "steps": [{"name": "s", "commands": ["true"]}]}]}`), models.ConfigTypeJSON)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds the limit")

	p = NewPipelineParser(ParserLimits{MaxStepsPerJob: 1})
	_, err = p.Parse([]byte(`{"version": "1", "jobs": [
		{"name": "a", "steps": [
			{"name": "s1", "commands": ["true"]},
			{"name": "s2", "commands": ["true"]}]}]}`), models.ConfigTypeJSON)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds the limit")
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()

	path, configType, err := Discover(dir)
	require.NoError(t, err)
	require.Equal(t, models.ConfigTypeNoConfig, configType)
	require.Empty(t, path)

	err = os.WriteFile(filepath.Join(dir, "conveyor.yml"), []byte("version: 1"), 0644)
	require.NoError(t, err)
	path, configType, err = Discover(dir)
	require.NoError(t, err)
	require.Equal(t, models.ConfigTypeYAML, configType)
	require.Equal(t, filepath.Join(dir, "conveyor.yml"), path)

	// Hidden files win over their visible counterparts
	err = os.WriteFile(filepath.Join(dir, ".conveyor.jsonnet"), []byte("{}"), 0644)
	require.NoError(t, err)
	err = os.WriteFile(filepath.Join(dir, ".conveyor.yaml"), []byte("version: 1"), 0644)
	require.NoError(t, err)
	path, configType, err = Discover(dir)
	require.NoError(t, err)
	require.Equal(t, models.ConfigTypeYAML, configType)
	require.Equal(t, filepath.Join(dir, ".conveyor.yaml"), path)
}
