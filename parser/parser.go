package parser

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/go-jsonnet"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/conveyorci/conveyor/common/models"
)

var (
	// YAMLConfigFileNames contains a list of all pipeline config file names
	// that represent a YAML formatted config file in the root of a repo.
	YAMLConfigFileNames = []string{
		".conveyor.yaml",
		"conveyor.yaml",
		".conveyor.yml",
		"conveyor.yml",
	}

	// JSONConfigFileNames contains a list of all pipeline config file names
	// that represent a JSON formatted config file in the root of a repo.
	JSONConfigFileNames = []string{
		".conveyor.json",
		"conveyor.json",
	}

	// JSONNETConfigFileNames contains a list of all pipeline config file names
	// that represent a Jsonnet formatted config file in the root of a repo.
	JSONNETConfigFileNames = []string{
		".conveyor.jsonnet",
		"conveyor.jsonnet",
	}
)

// ParserLimits provides a parser with information on limits to check while parsing. If the data goes beyond
// any limit then parsing should fail.
type ParserLimits struct {
	// MaxJobsPerPipeline is the maximum number of job templates allowed in a single
	// pipeline definition. Zero means no limit.
	MaxJobsPerPipeline int
	// MaxStepsPerJob is the maximum number of steps allowed in any single job. Any pipeline
	// definition containing a job with more than this number of steps will be rejected.
	MaxStepsPerJob int
}

// pipelineVersionedParser is an object capable of parsing a specific version of a pipeline definition.
type pipelineVersionedParser interface {
	Parse(topLevelElement map[string]interface{}) (*models.PipelineDefinition, error)
}

type PipelineParser struct {
	limits ParserLimits
}

func NewPipelineParser(limits ParserLimits) *PipelineParser {
	return &PipelineParser{
		limits: limits,
	}
}

// Discover locates the pipeline config file in the root of the given
// directory and returns its path and type. Returns ConfigTypeNoConfig if no
// config file exists.
func Discover(dir string) (string, models.ConfigType, error) {
	var candidates []string
	candidates = append(candidates, YAMLConfigFileNames...)
	candidates = append(candidates, JSONConfigFileNames...)
	candidates = append(candidates, JSONNETConfigFileNames...)
	for _, name := range candidates {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", models.ConfigTypeNoConfig, errors.Wrapf(err, "error checking for config file %q", path)
		}
		if info.IsDir() {
			continue
		}
		return path, models.ConfigTypeForFileName(name), nil
	}
	return "", models.ConfigTypeNoConfig, nil
}

// ParseFile reads and parses the pipeline config file at the given path.
func (s *PipelineParser) ParseFile(path string) (*models.PipelineDefinition, error) {
	config, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading config file %q", path)
	}
	configType := models.ConfigTypeForFileName(path)
	return s.Parse(config, configType)
}

// Parse parses a raw pipeline config.
func (s *PipelineParser) Parse(config []byte, configType models.ConfigType) (*models.PipelineDefinition, error) {
	var (
		err error
		raw interface{}
	)
	switch configType {
	case models.ConfigTypeYAML:
		raw, err = s.parseFromYAML(config)
	case models.ConfigTypeJSON:
		raw, err = s.parseFromJSON(config)
	case models.ConfigTypeJSONNET:
		raw, err = s.parseFromJSONNET(config)
	case models.ConfigTypeNoConfig:
		return nil, errors.Errorf("error: no pipeline configuration file was found")
	default:
		return nil, errors.Errorf("error: unsupported pipeline configuration type: %s", configType)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "error unmarshalling pipeline definition from %s", configType)
	}

	// All versions must have a top-level object rather than an array.
	topLevelElement, ok := raw.(map[string]interface{})
	if !ok {
		return nil, errors.Errorf("error parsing pipeline definition: must contain a top-level object: %T", raw)
	}

	const defaultVersion = "DEFAULT_VERSION"
	version := defaultVersion
	rVersion, ok := topLevelElement["version"]
	if ok {
		// normalizeMapValues() turns all scalar data types into strings, including float/integer version numbers
		version, ok = rVersion.(string)
		if !ok {
			return nil, errors.Errorf("error parsing pipeline definition: expected 'version' field to be a string but found: %T", rVersion)
		}
	}

	// Create a parser specific to the version to parse the rest of the data
	var parser pipelineVersionedParser
	switch version {
	case "1.0", "1", defaultVersion:
		parser = newPipelineParserV1(s.limits)
	default:
		return nil, errors.Errorf("error parsing pipeline definition: version %s not supported", version)
	}

	definition, err := parser.Parse(topLevelElement)
	if err != nil {
		return nil, fmt.Errorf("error parsing pipeline definition: %w", err)
	}
	if version == defaultVersion {
		definition.Version = "1"
	} else {
		definition.Version = version
	}

	err = definition.Validate()
	if err != nil {
		return nil, fmt.Errorf("error validating pipeline definition: %w", err)
	}

	return definition, nil
}

func (s *PipelineParser) parseFromYAML(config []byte) (interface{}, error) {
	var raw interface{}
	err := yaml.Unmarshal(config, &raw)
	if err != nil {
		return nil, errors.Wrap(err, "error unmarshalling yml")
	}
	raw = s.normalizeMapValues(raw)
	return raw, nil
}

func (s *PipelineParser) parseFromJSON(config []byte) (interface{}, error) {
	var raw interface{}
	err := json.Unmarshal(config, &raw)
	if err != nil {
		return nil, errors.Wrap(err, "error unmarshalling json")
	}
	return raw, nil
}

func (s *PipelineParser) parseFromJSONNET(config []byte) (interface{}, error) {
	vm := jsonnet.MakeVM()
	json, err := vm.EvaluateSnippet(JSONNETConfigFileNames[0], string(config))
	if err != nil {
		return nil, errors.Wrap(err, "error parsing jsonnet")
	}
	return s.parseFromJSON([]byte(json))
}

// normalizeMapValues iterates through all properties (including nested properties)
// of an object and converts all map[interface{}]interface{} that have a string key
// to map[string]interface{}. This is intended to be used to normalize the output of
// the yaml parser, to make it consistent with the JSON parser in the go standard lib.
func (s *PipelineParser) normalizeMapValues(v interface{}) interface{} {
	switch v := v.(type) {
	case []interface{}:
		return s.normalizeInterfaceArray(v)
	case map[interface{}]interface{}:
		return s.cleanupInterfaceMap(v)
	case string:
		return v
	default:
		// This will convert integers, floats and booleans to strings
		return fmt.Sprintf("%v", v)
	}
}

func (s *PipelineParser) normalizeInterfaceArray(in []interface{}) []interface{} {
	res := make([]interface{}, len(in))
	for i, v := range in {
		res[i] = s.normalizeMapValues(v)
	}
	return res
}

func (s *PipelineParser) cleanupInterfaceMap(in map[interface{}]interface{}) map[string]interface{} {
	res := make(map[string]interface{})
	for k, v := range in {
		res[fmt.Sprintf("%v", k)] = s.normalizeMapValues(v)
	}
	return res
}
