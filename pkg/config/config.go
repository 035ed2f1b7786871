package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = "icount"
	configFile string = "config.yml"
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Functions resolved and armed but never counted.
	Passthrough []string `yaml:"passthrough"`

	// Summary prints a per function table after the target exits.
	Summary bool `yaml:"summary"`

	// NoColor disables colored output even on terminals.
	NoColor bool `yaml:"no-color"`

	// DisasmCacheSize is the number of decoded instructions cached by
	// the steps log.
	DisasmCacheSize int `yaml:"disasm-cache-size,omitempty"`

	// LogOutput and LogDest are used when --log is passed without
	// --log-output or --log-dest.
	LogOutput string `yaml:"log-output,omitempty"`
	LogDest   string `yaml:"log-dest,omitempty"`
}

// LoadConfig attempts to populate a Config object from the config.yml file,
// creating a commented default file on first use.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not create config directory: %v.\n", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to get config file path: %v.\n", err)
		return &Config{}
	}

	if _, err := os.Stat(fullConfigFile); os.IsNotExist(err) {
		if err := createDefaultConfig(fullConfigFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating default config file: %v.\n", err)
			return &Config{}
		}
	}

	c, err := LoadConfigFile(fullConfigFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v.\n", err)
		return &Config{}
	}
	return c
}

// LoadConfigFile reads the configuration stored at path.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read config data: %w", err)
	}

	var c Config
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return nil, fmt.Errorf("unable to decode config file %s: %w", path, err)
	}
	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config, path string) error {
	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("unable to create config file: %v", err)
	}
	defer f.Close()
	err = writeDefaultConfig(f)
	if err != nil {
		return fmt.Errorf("unable to write default configuration: %v", err)
	}
	return nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for icount.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Functions that are resolved and armed but whose invocations are not
# counted. Nested calls into them are part of the count of the caller.
passthrough:
  # - name

# Print a per function summary after the target exits.
# summary: true

# Disable colored output.
# no-color: true

# Number of decoded instructions kept by the steps log layer.
# disasm-cache-size: 4096

# Log layers and destination used when --log is passed alone.
# log-output: tracer
# log-dest: /tmp/icount.log
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
// The directory is $XDG_CONFIG_HOME/icount if XDG_CONFIG_HOME is set,
// ~/.config/icount otherwise.
func GetConfigFilePath(file string) (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, configDir, file), nil
	}

	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	} else if home, herr := os.UserHomeDir(); herr == nil {
		userHomeDir = home
	}
	return filepath.Join(userHomeDir, ".config", configDir, file), nil
}
