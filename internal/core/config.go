package core

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const (
	BaseDirName      = ".config/pfm"
	ConfigFileName   = "config.hcl"
	RegistryFileName = "forwards.json"
	HistoryFileName  = "history.db"
)

// DefaultConfigPath returns ~/.config/pfm, or a relative fallback when the
// home directory cannot be determined.
func DefaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return BaseDirName
	}
	return filepath.Join(homeDir, BaseDirName)
}

// InitializeConfig loads config.hcl from the --config-path directory into
// Config, applies the --verbose flag and installs the default logger.
func InitializeConfig(cmd *cobra.Command) error {
	configPath, err := cmd.Flags().GetString("config-path")
	if err != nil || configPath == "" {
		configPath = DefaultConfigPath()
	}

	configFile := filepath.Join(configPath, ConfigFileName)
	if ConfigExists(configFile) {
		cfg, err := LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", configFile, err)
		}
		Config = cfg
	} else {
		Config = GetDefaultConfig()
		Config.ConfigPath = configPath
	}

	// Repeated -v raises the level, config verbose acts as a floor
	if verbose, err := cmd.Flags().GetCount("verbose"); err == nil && verbose > Config.Verbose {
		Config.Verbose = verbose
	}

	SetupLogging(os.Stderr, Config.Verbose)
	return nil
}
