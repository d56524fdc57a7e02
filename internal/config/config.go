package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is banjo's on-disk configuration. The ACP adapter has exactly one
// configurable surface (the acp section); everything else the teacher's
// term-llm config supported (provider credentials, image/embed/search
// providers, themes, skills) has no component in this adapter to bind to,
// so it was not carried forward (see DESIGN.md).
type Config struct {
	Acp AcpConfig `mapstructure:"acp"`
}

// AcpConfig configures the ACP adapter's engine selection and daemon mode.
type AcpConfig struct {
	DefaultEngine     string          `mapstructure:"default_engine"`      // "claude" or "codex"; not read at run time (session/new defaults to claude)
	ClaudeBin         string          `mapstructure:"claude_bin"`          // override for the claude binary path
	CodexBin          string          `mapstructure:"codex_bin"`          // override for the codex binary path
	ResumeEnabled     bool            `mapstructure:"resume_enabled"`      // not read at run time: a restarted bridge always resumes the child's prior session id
	TaskOracleCommand string          `mapstructure:"task_oracle_command"` // external command consulted on max-turn-requests
	Daemon            AcpDaemonConfig `mapstructure:"daemon"`
}

// AcpDaemonConfig configures `banjo daemon`'s WebSocket listener.
type AcpDaemonConfig struct {
	Port int `mapstructure:"port"` // 0 selects an ephemeral port
}

// Load reads config.yaml from the XDG config directory (or the current
// directory), falling back to GetDefaults() for anything unset.
func Load() (*Config, error) {
	configPath, err := GetConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config dir: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configPath)
	viper.AddConfigPath(".")

	for key, value := range GetDefaults() {
		viper.SetDefault(key, value)
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Acp.ClaudeBin = expandEnv(cfg.Acp.ClaudeBin)
	cfg.Acp.CodexBin = expandEnv(cfg.Acp.CodexBin)

	return &cfg, nil
}

// expandEnv expands ${VAR} or $VAR in a string.
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		varName := s[2 : len(s)-1]
		return os.Getenv(varName)
	}
	if strings.HasPrefix(s, "$") {
		return os.Getenv(s[1:])
	}
	return s
}

// GetConfigDir returns the XDG config directory for banjo.
// Uses $XDG_CONFIG_HOME if set, otherwise ~/.config
func GetConfigDir() (string, error) {
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, "banjo"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", "banjo"), nil
}

// GetConfigPath returns the path where the config file should be located.
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}

// Exists returns true if a config file exists.
func Exists() bool {
	path, err := GetConfigPath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// KnownKeys contains all valid configuration key paths.
var KnownKeys = map[string]bool{
	"acp":                     true,
	"acp.default_engine":      true,
	"acp.claude_bin":          true,
	"acp.codex_bin":           true,
	"acp.resume_enabled":      true,
	"acp.task_oracle_command": true,
	"acp.daemon":              true,
	"acp.daemon.port":         true,
}

// IsKnownKey checks if a key path is a known configuration key.
func IsKnownKey(keyPath string) bool {
	return KnownKeys[keyPath]
}

// GetDefaults returns a map of all default configuration values.
func GetDefaults() map[string]any {
	return map[string]any{
		"acp.default_engine":      "claude",
		"acp.claude_bin":          "claude",
		"acp.codex_bin":           "codex",
		"acp.resume_enabled":      true,
		"acp.task_oracle_command": "",
		"acp.daemon.port":         0,
	}
}
