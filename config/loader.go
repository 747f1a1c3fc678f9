package config

import (
	"log/slog"
	"os"
	"path/filepath"
)

const (
	// ProjectConfigFile is the name of the working-directory config file.
	ProjectConfigFile = "homestar.yaml"
	// UserConfigDir is the directory for user-level config.
	UserConfigDir = ".config/homestar"
	// UserConfigFile is the name of the user-level config file.
	UserConfigFile = "config.yaml"
	// ConfigPathEnvVar, when set, names an explicit config file that
	// overrides both the user and project config search.
	ConfigPathEnvVar = "HOMESTAR_CONFIG"
)

// Loader handles configuration loading with layered precedence. Unlike a
// development CLI, a node has no notion of a project root to auto-detect:
// precedence is strictly defaults < user config < working-directory config
// (or an explicit path in its place) < $HOMESTAR_CONFIG.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a new configuration loader.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load loads configuration with layered precedence:
//  1. Default config
//  2. User config (~/.config/homestar/config.yaml)
//  3. Working-directory config (./homestar.yaml)
//  4. The file named by $HOMESTAR_CONFIG, if set
//
// explicitPath, if non-empty, is used instead of the working-directory
// search (e.g. a CLI --config flag) and still yields to $HOMESTAR_CONFIG.
func (l *Loader) Load(explicitPath string) (*Config, error) {
	cfg := DefaultConfig()

	if userPath := l.userConfigPath(); userPath != "" {
		if userCfg, err := LoadFromFile(userPath); err == nil {
			l.logger.Debug("loaded user config", slog.String("path", userPath))
			cfg.Merge(userCfg)
		} else if !os.IsNotExist(err) {
			l.logger.Warn("failed to load user config", slog.String("path", userPath), slog.String("error", err.Error()))
		}
	}

	projectPath := explicitPath
	if projectPath == "" {
		projectPath = ProjectConfigFile
	}
	if projectCfg, err := LoadFromFile(projectPath); err == nil {
		l.logger.Debug("loaded config", slog.String("path", projectPath))
		cfg.Merge(projectCfg)
	} else if !os.IsNotExist(err) {
		l.logger.Warn("failed to load config", slog.String("path", projectPath), slog.String("error", err.Error()))
	}

	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		envCfg, err := LoadFromFile(envPath)
		if err != nil {
			return nil, err
		}
		l.logger.Debug("loaded config from "+ConfigPathEnvVar, slog.String("path", envPath))
		cfg.Merge(envCfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// EnsureUserConfig creates the user config file with defaults if it
// doesn't already exist.
func (l *Loader) EnsureUserConfig() error {
	userConfigPath := l.userConfigPath()
	if userConfigPath == "" {
		return nil
	}

	if _, err := os.Stat(userConfigPath); err == nil {
		return nil
	}

	cfg := DefaultConfig()
	if err := cfg.SaveToFile(userConfigPath); err != nil {
		return err
	}

	l.logger.Info("created default user config", slog.String("path", userConfigPath))
	return nil
}

func (l *Loader) userConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}
