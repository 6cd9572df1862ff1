package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".dbgcheck"
	configFile string = "config.yml"

	// configDirEnv overrides the configuration directory.
	configDirEnv = "DBGCHECK_CONFIG_DIR"
)

// Defaults for the options the config file leaves unset.
const (
	DefaultBackend = "dap"
	DefaultAdapter = "lldb-dap"
	DefaultDelve   = "dlv"
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Backend is the backend used when --backend is not given: "dap" or
	// "rpc".
	Backend string `yaml:"backend,omitempty"`
	// Adapter is the command line starting the DAP adapter.
	Adapter string `yaml:"adapter,omitempty"`
	// Delve is the command line starting delve for the rpc backend.
	Delve string `yaml:"dlv,omitempty"`

	// Color enables colors in the report when stdout is a terminal.
	// Unset means enabled.
	Color *bool `yaml:"color,omitempty"`

	// TTY runs the target on a pseudo terminal so that its output does not
	// mix with the report.
	TTY bool `yaml:"tty"`

	// SuiteDirectories are searched, in order, for suite files that are
	// not found relative to the current directory.
	SuiteDirectories []string `yaml:"suite-directories"`
}

// GetBackend returns the configured backend or the default one.
func (c *Config) GetBackend() string {
	if c.Backend == "" {
		return DefaultBackend
	}
	return c.Backend
}

// GetAdapter returns the configured adapter command line or the default one.
func (c *Config) GetAdapter() string {
	if c.Adapter == "" {
		return DefaultAdapter
	}
	return c.Adapter
}

// GetDelve returns the configured delve command line or the default one.
func (c *Config) GetDelve() string {
	if c.Delve == "" {
		return DefaultDelve
	}
	return c.Delve
}

// ColorEnabled reports whether colors are allowed.
func (c *Config) ColorEnabled() bool {
	return c.Color == nil || *c.Color
}

// LoadConfig reads config.yml from the configuration directory, writing
// the commented default file first if there is none. Problems are reported
// on stderr and result in the default configuration.
func LoadConfig() *Config {
	if err := createConfigPath(); err != nil {
		fmt.Fprintf(os.Stderr, "Could not create config directory: %v.\n", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to get config file path: %v.\n", err)
		return &Config{}
	}

	data, err := ioutil.ReadFile(fullConfigFile)
	if os.IsNotExist(err) {
		data = []byte(defaultConfig)
		if err = ioutil.WriteFile(fullConfigFile, data, 0600); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating default config file: %v\n", err)
		}
		err = nil
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to read config file %s: %v.\n", fullConfigFile, err)
		return &Config{}
	}

	c, err := parseConfig(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to decode config file %s: %v.\n", fullConfigFile, err)
		return &Config{}
	}
	return c
}

func parseConfig(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	switch c.Backend {
	case "", "dap", "rpc":
	default:
		return nil, fmt.Errorf("unknown backend %q", c.Backend)
	}
	return &c, nil
}

// SaveConfig writes conf to config.yml, replacing the commented default.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	return ioutil.WriteFile(fullConfigFile, out, 0600)
}

const defaultConfig = `# Configuration file for dbgcheck.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Backend used when --backend is not passed: dap (Debug Adapter Protocol)
# or rpc (headless delve).
# backend: dap

# Command line starting the debug adapter.
# adapter: lldb-dap

# Command line starting delve.
# dlv: dlv

# Set to false to never color the report.
# color: true

# Run the target on a pseudo terminal, its output goes to the launcher log.
# tty: true

# Directories searched for suite files.
suite-directories:
  # - /path/to/suites
`

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	if dir := os.Getenv(configDirEnv); dir != "" {
		return path.Join(dir, file), nil
	}

	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
