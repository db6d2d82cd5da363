// Command youtrek is an offline-first YouTrack client. It keeps a local
// SQLite cache of issues, boards and saved queries, queues edits made
// offline, and reconciles both with the server in the background.
package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ptmt/youtrek-sub001/internal/app"
	"github.com/ptmt/youtrek-sub001/internal/config"
	"github.com/ptmt/youtrek-sub001/internal/remote"
	"github.com/ptmt/youtrek-sub001/internal/ui"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "youtrek",
	Short: "Offline-first YouTrack client",
	Long: `YouTrek keeps a local cache of your YouTrack issues so browsing and
editing keep working without a network connection.

Issues, boards and saved queries are cached in a local SQLite database.
Edits made offline are queued and replayed against the server on the
next sync; edits that collide with a remote change are held for review
instead of being merged silently.

Start with:
  youtrek login                  # store the server URL and token
  youtrek sync                   # fetch your issues
  youtrek issues                 # browse the cache, online or not`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(ui.AutoProfile)

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default is $XDG_CONFIG_HOME/youtrek/config.toml)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "issues", Title: "Issue Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "setup", Title: "Setup Commands:"},
	)
}

// loadConfig reads the effective configuration, honoring --config.
func loadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// newLogger routes component logs to stderr, and additionally through
// the configured rotating log file when one is set.
func newLogger(cfg *config.Config, prefix string) *log.Logger {
	var out io.Writer = os.Stderr
	if cfg.LogFile != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
		})
	}
	return log.New(out, prefix, log.LstdFlags)
}

// openApp builds the application core from the loaded config and any
// stored credentials. Missing credentials are fine: offline browsing
// and queued edits work without them, only sync needs a login.
func openApp(cfg *config.Config, prefix string) *app.App {
	var svc remote.Service
	creds, err := config.LoadCredentials("")
	switch {
	case err == nil:
		client, cerr := remote.NewClient(remote.Config{BaseURL: creds.BaseURL, Token: creds.Token})
		if cerr != nil {
			fmt.Fprintf(os.Stderr, "Error: stored credentials are unusable: %v\n", cerr)
			os.Exit(1)
		}
		svc = client
	case errors.Is(err, config.ErrNoCredentials):
		// Not logged in yet.
	default:
		fmt.Fprintf(os.Stderr, "Error reading credentials: %v\n", err)
		os.Exit(1)
	}

	a, err := app.New(cfg, svc, newLogger(cfg, prefix))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return a
}
