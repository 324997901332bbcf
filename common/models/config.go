package models

import "strings"

const (
	ConfigTypeYAML    ConfigType = "yaml"
	ConfigTypeJSON    ConfigType = "json"
	ConfigTypeJSONNET ConfigType = "jsonnet"
	// ConfigTypeNoConfig (an empty string) is used to indicate that there is no configuration file present.
	ConfigTypeNoConfig ConfigType = ""
	// ConfigTypeUnknown indicates that a config file of an unknown type was found.
	ConfigTypeUnknown ConfigType = "unknown"
)

// ConfigType identifies the format of a pipeline definition file.
type ConfigType string

func (s ConfigType) Valid() bool {
	return string(s) != "" && s != ConfigTypeUnknown
}

func (s ConfigType) String() string {
	return string(s)
}

// ConfigTypeForFileName returns the config type implied by a pipeline
// definition file name, based on its extension.
func ConfigTypeForFileName(name string) ConfigType {
	switch {
	case strings.HasSuffix(name, ".yaml"), strings.HasSuffix(name, ".yml"):
		return ConfigTypeYAML
	case strings.HasSuffix(name, ".json"):
		return ConfigTypeJSON
	case strings.HasSuffix(name, ".jsonnet"):
		return ConfigTypeJSONNET
	default:
		return ConfigTypeUnknown
	}
}
