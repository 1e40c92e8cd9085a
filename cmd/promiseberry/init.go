package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/blockberries/promiseberry/config"
)

var (
	initOrigin    string
	initPrincipal string
	initDataDir   string
	initOverride  bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new engine",
	Long: `Initialize a new Promiseberry engine with a configuration file.

This command creates:
  - config.toml: Engine configuration
  - data/: Data directory for promise state

Example:
  promiseberry init --origin mychain --principal myengine`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initOrigin, "origin", "promiseberry-local-1", "logical origin this engine acts for")
	initCmd.Flags().StringVar(&initPrincipal, "principal", "promiseberry-engine", "principal this engine sends instructions as")
	initCmd.Flags().StringVar(&initDataDir, "data-dir", ".", "directory for configuration and data")
	initCmd.Flags().BoolVar(&initOverride, "force", false, "override existing configuration")
}

func runInit(cmd *cobra.Command, args []string) error {
	dataDir := initDataDir
	if dataDir == "" {
		dataDir = "."
	}

	configPath := filepath.Join(dataDir, "config.toml")
	if _, err := os.Stat(configPath); err == nil && !initOverride {
		return fmt.Errorf("config.toml already exists; use --force to override")
	}

	cfg := config.DefaultConfig()
	cfg.Node.Origin = initOrigin
	cfg.Node.Principal = initPrincipal
	cfg.Store.Path = filepath.Join(dataDir, "data", "promises")

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	if err := os.MkdirAll(cfg.Store.Path, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", cfg.Store.Path, err)
	}

	if err := config.WriteConfigFile(configPath, cfg); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("Initialized Promiseberry engine\n")
	fmt.Printf("  Origin:      %s\n", initOrigin)
	fmt.Printf("  Principal:   %s\n", initPrincipal)
	fmt.Printf("  Config:      %s\n", configPath)
	fmt.Printf("  Data dir:    %s\n", filepath.Join(dataDir, "data"))

	return nil
}
