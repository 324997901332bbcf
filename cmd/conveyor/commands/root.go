package commands

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/conveyorci/conveyor/cmd/conveyor/cli"
	"github.com/conveyorci/conveyor/common/logger"
	"github.com/conveyorci/conveyor/common/version"
)

const (
	DefaultConfigDir = "~/"
	ConfigFileName   = ".conveyor"
	EnvPrefix        = "CONVEYOR"
)

var (
	defaultConfigFilePath = fmt.Sprintf("%s%s.yml", DefaultConfigDir, ConfigFileName)
)

type GlobalConfig struct {
	Debug          bool
	JSON           bool
	ConfigFilePath string
	LogLevels      string
}

var Global = &GlobalConfig{}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVarP(
		&Global.ConfigFilePath,
		"config",
		"c",
		defaultConfigFilePath,
		"The config file to use when executing commands.")

	RootCmd.PersistentFlags().BoolVarP(
		&Global.Debug,
		"debug",
		"d",
		false,
		"Enable verbose debug output.")

	RootCmd.PersistentFlags().BoolVarP(
		&Global.JSON,
		"json",
		"j",
		false,
		"Enable structured JSON output.")

	RootCmd.PersistentFlags().StringVar(
		&Global.LogLevels,
		"log-levels",
		"",
		fmt.Sprintf("Per-subsystem log levels as \"subsystem=level\" pairs, separated by commas. Valid levels are %s.",
			logger.ListLogLevels()))
}

// Execute adds all child commands to the root command sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	cli.Exit(RootCmd.Execute())
}

// BindFlag makes the named viper config key track a command line flag, so a
// value can come from the flag, a CONVEYOR_* environment variable or the
// config file, in that order of precedence.
func BindFlag(key string, flag *pflag.Flag) {
	err := viper.BindPFlag(key, flag)
	if err != nil {
		panic(fmt.Sprintf("error binding flag %q: %s", key, err))
	}
}

// MakeLogFactory creates the log factory commands should log through, honoring
// the global --debug, --json and --log-levels flags.
func MakeLogFactory() (logger.LogFactory, error) {
	registry, err := logger.NewLogRegistry(logger.LogLevelConfig(Global.LogLevels))
	if err != nil {
		return nil, err
	}
	if Global.Debug {
		registry.SetDefaultLogLevel(logrus.DebugLevel)
	}
	if Global.JSON {
		return logger.MakeLogrusLogFactoryStdOutJSON(registry), nil
	}
	return logger.MakeLogrusLogFactoryStdOut(registry), nil
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if Global.ConfigFilePath != "" && Global.ConfigFilePath != defaultConfigFilePath {
		viper.SetConfigFile(Global.ConfigFilePath)
	} else {
		viper.SetConfigName(ConfigFileName)
		viper.AddConfigPath(DefaultConfigDir)
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix(EnvPrefix)
	viper.AutomaticEnv()

	// If a config file is found, read it in.
	err := viper.ReadInConfig()
	if err == nil {
		Global.ConfigFilePath = viper.ConfigFileUsed()
		cli.Stderr.Printf("Using config file: %s", viper.ConfigFileUsed())
	} else {
		switch err.(type) {
		case viper.ConfigFileNotFoundError:
		default:
			cli.Exit(fmt.Errorf("error loading config file (%s): %s", viper.ConfigFileUsed(), err))
		}
	}
}

var RootCmd = &cobra.Command{
	Use:     "conveyor",
	Short:   "Conveyor runs CI pipelines locally",
	Long:    `Conveyor expands a pipeline definition into a build graph and runs it on this machine.`,
	Version: version.VersionToString(),
}
