package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ptmt/youtrek-sub001/internal/config"
	"github.com/ptmt/youtrek-sub001/internal/remote"
	"github.com/ptmt/youtrek-sub001/internal/ui"
)

var loginCmd = &cobra.Command{
	Use:     "login",
	GroupID: "setup",
	Short:   "Connect to a YouTrack instance",
	Long: `Store the YouTrack base URL and a permanent token for sync.

The token is verified against the server before it is saved. Create one
in YouTrack under Profile > Account Security > Tokens; it needs read
and update access to the projects you work with.

Credentials are written to a user-only file next to the config, never
into config.toml itself.

Example usage:
  youtrek login                                      # prompt for both
  youtrek login --url https://example.youtrack.cloud # prompt for token only`,
	Run: func(cmd *cobra.Command, args []string) {
		baseURL, _ := cmd.Flags().GetString("url")
		token, _ := cmd.Flags().GetString("token")

		reader := bufio.NewReader(os.Stdin)
		if baseURL == "" {
			fmt.Print("YouTrack URL: ")
			line, err := reader.ReadString('\n')
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reading URL: %v\n", err)
				os.Exit(1)
			}
			baseURL = strings.TrimSpace(line)
		}
		if token == "" {
			token = promptToken(reader)
		}

		creds := &config.Credentials{BaseURL: baseURL, Token: token}
		if err := creds.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		client, err := remote.NewClient(remote.Config{BaseURL: baseURL, Token: token})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Println("Verifying token...")
		if _, err := client.FetchSavedQueries(context.Background()); err != nil {
			if errors.Is(err, remote.ErrUnauthorized) {
				fmt.Fprintf(os.Stderr, "Error: YouTrack rejected the token. Check that it is a permanent token with read access\n")
			} else {
				fmt.Fprintf(os.Stderr, "Error reaching %s: %v\n", baseURL, err)
			}
			os.Exit(1)
		}

		if err := config.SaveCredentials("", creds); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving credentials: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Logged in to %s (token %s)\n", ui.Good.Render("✓"), baseURL, creds.RedactedToken())
		fmt.Println("Run 'youtrek sync' to fetch your issues.")
	},
}

// promptToken reads the token without echo on a terminal, falling back
// to a plain line read when stdin is piped.
func promptToken(reader *bufio.Reader) string {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Print("Permanent token: ")
		b, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading token: %v\n", err)
			os.Exit(1)
		}
		return strings.TrimSpace(string(b))
	}

	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintf(os.Stderr, "Error reading token: %v\n", err)
		os.Exit(1)
	}
	return strings.TrimSpace(line)
}

func init() {
	loginCmd.Flags().String("url", "", "YouTrack base URL, e.g. https://example.youtrack.cloud")
	loginCmd.Flags().String("token", "", "Permanent token (prompted for when omitted)")

	rootCmd.AddCommand(loginCmd)
}
