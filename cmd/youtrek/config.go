package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ptmt/youtrek-sub001/internal/config"
	"github.com/ptmt/youtrek-sub001/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Print the settings YouTrek is actually running with, after the
config file, YOUTREK_* environment variables and defaults have been
merged.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		source := configPath
		if source == "" {
			p, err := config.DefaultPath()
			if err == nil {
				source = p
			}
		}
		if _, err := os.Stat(source); err != nil {
			source += " (not present, using defaults)"
		}

		fmt.Printf("\n%s\n\n", ui.Title.Render("YouTrek Configuration"))
		fmt.Printf("Config file:  %s\n", source)
		fmt.Printf("Database:     %s\n", cfg.DatabasePath)
		if len(cfg.Projects) == 0 {
			fmt.Printf("Projects:     all the token can see\n")
		} else {
			fmt.Printf("Projects:     %s\n", strings.Join(cfg.Projects, ", "))
		}
		fmt.Printf("Sync every:   %s (retry backoff %s to %s)\n", cfg.SyncInterval, cfg.BackoffBase, cfg.BackoffCap)
		fmt.Printf("Bridge port:  %d\n", cfg.BridgePort)
		if cfg.LogFile == "" {
			fmt.Printf("Log:          stderr\n")
		} else {
			fmt.Printf("Log:          %s (max %d MB, %d backups)\n", cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		}

		creds, err := config.LoadCredentials("")
		switch {
		case err == nil:
			fmt.Printf("Server:       %s (token %s)\n", creds.BaseURL, creds.RedactedToken())
		case errors.Is(err, config.ErrNoCredentials):
			fmt.Printf("Server:       %s\n", ui.Warning.Render("not logged in"))
		default:
			fmt.Printf("Server:       %s\n", ui.Bad.Render(fmt.Sprintf("credentials unreadable: %v", err)))
		}
		fmt.Println()
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
