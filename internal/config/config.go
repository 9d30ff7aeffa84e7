// Copyright (c) 2026 Minarca Team
// Minarca - backup agent identity and configuration
// This source code is licensed under the MIT license found in the LICENSE file.

// Package config loads the agent settings used by the command line shell.
// These are distinct from minarca.properties, which belongs to the backup
// configuration itself and is handled by internal/store.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Default remote host and the MD5 fingerprint of its host key.
const (
	DefaultRemoteHost            = "fente.patrikdufresne.com"
	DefaultRemoteHostFingerprint = "05:16:1c:49:37:58:87:a5:5c:16:31:bc:a9:95:2c:c2"
	DefaultBrowseURL             = "http://rdiffweb.patrikdufresne.com"
)

type Remote struct {
	Host         string   `mapstructure:"host" yaml:"host"`
	Port         int      `mapstructure:"port" yaml:"port"`
	Fingerprints []string `mapstructure:"fingerprints" yaml:"fingerprints"`
	BrowseURL    string   `mapstructure:"browse_url" yaml:"browse_url"`
}

type Engine struct {
	Command    string `mapstructure:"command" yaml:"command,omitempty"`
	SSHCommand string `mapstructure:"ssh_command" yaml:"ssh_command,omitempty"`
}

type Schedule struct {
	Interval string `mapstructure:"interval" yaml:"interval"`
}

type Log struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file,omitempty"`
}

// Config is the content of minarca.yaml.
type Config struct {
	// ConfigDir overrides the platform configuration directory.
	ConfigDir string   `mapstructure:"config_dir" yaml:"config_dir,omitempty"`
	Remote    Remote   `mapstructure:"remote" yaml:"remote"`
	Engine    Engine   `mapstructure:"engine" yaml:"engine"`
	Schedule  Schedule `mapstructure:"schedule" yaml:"schedule"`
	Log       Log      `mapstructure:"log" yaml:"log"`
}

// Defaults returns the viper defaults for Config.
func Defaults() map[string]any {
	return map[string]any{
		"config_dir":          "",
		"remote.host":         DefaultRemoteHost,
		"remote.port":         22,
		"remote.fingerprints": []string{DefaultRemoteHostFingerprint},
		"remote.browse_url":   DefaultBrowseURL,
		"engine.command":      "",
		"engine.ssh_command":  "",
		"schedule.interval":   "hourly",
		"log.level":           "info",
		"log.file":            "",
	}
}

// GetConfigPath returns the full path for the settings file.
func GetConfigPath(system bool) (string, error) {
	var configDir string
	var err error

	if system {
		switch runtime.GOOS {
		case "windows":
			configDir = filepath.Join(os.Getenv("ProgramData"), "Minarca")
		default:
			configDir = "/etc/minarca"
		}
	} else {
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, "minarca")
	}

	return filepath.Join(configDir, "minarca.yaml"), nil
}

// LoadConfig resolves T from defaults, the settings file, MINARCA_* env
// vars and the flags of cmd, in increasing order of precedence. A missing
// settings file is not an error unless configFile names it explicitly.
func LoadConfig[T any](cmd *cobra.Command, defaults map[string]any, configFile *string) (T, error) {
	var c T
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("minarca")
	v.SetConfigType("yaml")

	if configFile != nil && *configFile != "" {
		v.SetConfigFile(*configFile)
	}

	if userConfigPath, err := GetConfigPath(false); err == nil {
		v.AddConfigPath(filepath.Dir(userConfigPath))
	}
	if systemConfigPath, err := GetConfigPath(true); err == nil {
		v.AddConfigPath(filepath.Dir(systemConfigPath))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return c, err
		}
	}

	mergeLegacyConfig(v)

	v.AutomaticEnv()
	v.SetEnvPrefix("minarca")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if cmd != nil {
		if err := bindFlags(v, cmd); err != nil {
			return c, err
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}

	return c, nil
}

// flagKeys maps command line flags onto settings keys.
var flagKeys = map[string]string{
	"config-dir":  "config_dir",
	"remote-host": "remote.host",
	"log-level":   "log.level",
	"log-file":    "log.file",
}

// bindFlags binds only flags the user changed so an unset flag never shadows
// the file or the environment.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}

// mergeLegacyConfig merges minarca.yaml found next to the properties file
// in the backup configuration directory, where older agents kept it.
func mergeLegacyConfig(v *viper.Viper) {
	dir := v.GetString("config_dir")
	if dir == "" {
		return
	}
	legacy := filepath.Join(dir, "minarca.yaml")
	if _, err := os.Stat(legacy); err != nil {
		return
	}
	used := v.ConfigFileUsed()
	v.SetConfigFile(legacy)
	_ = v.MergeInConfig()
	v.SetConfigFile(used)
}

// WriteConfigFile serializes c to the user or system settings file.
func WriteConfigFile[T any](c *T, system bool) error {
	path, err := GetConfigPath(system)
	if err != nil {
		return err
	}
	return WriteConfigFileTo(c, path)
}

// WriteConfigFileTo serializes c to path.
func WriteConfigFileTo[T any](c *T, path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", configDir, err)
	}

	return os.WriteFile(path, data, 0o600)
}
