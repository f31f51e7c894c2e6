package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/caldav-tasks/internal/config"
	"github.com/mschirtzinger/caldav-tasks/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "advanced",
	Short:   "Manage the config file",
	Long: `Manage the TOML config file.

Every key can be overridden from the environment with the CALDAV_TASKS_
prefix, for example CALDAV_TASKS_SYNC_INTERVAL=5m.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the default settings",
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")
		if _, err := os.Stat(configPath); err == nil && !force {
			fatal("%s already exists (use --force to overwrite)", configPath)
		}
		if err := config.Write(configPath, config.DefaultConfig()); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), configPath)
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		data, err := loadConfig().Encode()
		if err != nil {
			fatal("%v", err)
		}
		os.Stdout.Write(data)
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(configPath)
	},
}

var versionCmd = &cobra.Command{
	Use:     "version",
	GroupID: "advanced",
	Short:   "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		if Commit != "" {
			fmt.Printf("%s %s (%s)\n", config.AppName, Version, Commit)
			return
		}
		fmt.Printf("%s %s\n", config.AppName, Version)
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing file")

	configCmd.AddCommand(configInitCmd, configShowCmd, configPathCmd)
	rootCmd.AddCommand(configCmd, versionCmd)
}
