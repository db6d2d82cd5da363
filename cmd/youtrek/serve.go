package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ptmt/youtrek-sub001/internal/config"
	"github.com/ptmt/youtrek-sub001/internal/daemon"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "sync",
	Short:   "Run the sync daemon (foreground)",
	Long: `Run YouTrek as a long-lived daemon.

The daemon:
  1. Syncs with the server on the configured interval, backing off
     after failures
  2. Serves cache state and live updates over a local WebSocket bridge
     for desktop frontends
  3. Reloads config.toml when it changes, without a restart

The WebSocket bridge listens on bridge_port (default 7911) and pushes
sync phases, query updates, conflicts and advisories as they happen.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		a := openApp(cfg, "[youtrek] ")
		defer a.Close()

		watchPath := configPath
		if watchPath == "" {
			p, err := config.DefaultPath()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error resolving config path: %v\n", err)
				os.Exit(1)
			}
			watchPath = p
		}

		options := daemon.DefaultOptions()
		options.ConfigPath = watchPath
		options.Logger = newLogger(cfg, "[daemon] ")

		d, err := daemon.New(a, cfg, options)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating daemon: %v\n", err)
			os.Exit(1)
		}

		if !a.LoggedIn() {
			fmt.Println("Not logged in: serving the cache read-only. Run 'youtrek login' to enable sync.")
		}
		fmt.Printf("Event bridge: ws://localhost:%d/ws\n", cfg.BridgePort)
		fmt.Println("Press Ctrl+C to stop")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Daemon stopped with error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
