package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spatialops/moran/internal/config"
)

var enginePathCmd = &cobra.Command{
	Use:   "engine-path [path]",
	Short: "Show or set the persisted statistical engine path",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runEnginePath,
}

func init() {
	rootCmd.AddCommand(enginePathCmd)
}

func runEnginePath(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	settings, err := config.LoadSettings(cfg.SettingsPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if len(args) == 0 {
		path := settings.EnginePath()
		if path == "" {
			fmt.Println("no engine configured")
			return nil
		}
		fmt.Println(path)
		return nil
	}

	path := args[0]
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("engine path %s does not exist", path)
	}
	if err := settings.SetEnginePath(path); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	fmt.Printf("engine path set to %s\n", path)
	return nil
}
