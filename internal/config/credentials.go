package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/natefinch/atomic"
)

// ErrNoCredentials indicates no credentials file exists yet. Callers
// should direct the user to `youtrek login`.
var ErrNoCredentials = errors.New("no stored credentials")

// Credentials identifies the YouTrack instance and the permanent token
// used to talk to it.
type Credentials struct {
	BaseURL string `toml:"base_url"`
	Token   string `toml:"token"`
}

// CredentialsPath returns the location of the credentials file.
func CredentialsPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "credentials.toml"), nil
}

// LoadCredentials reads credentials from the given path. An empty path
// loads the default location. Returns ErrNoCredentials if the file does
// not exist.
func LoadCredentials(path string) (*Credentials, error) {
	if path == "" {
		var err error
		path, err = CredentialsPath()
		if err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCredentials
		}
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}

	var creds Credentials
	if err := toml.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}

	if err := creds.Validate(); err != nil {
		return nil, fmt.Errorf("stored credentials are invalid: %w", err)
	}

	return &creds, nil
}

// SaveCredentials writes credentials to the given path (default
// location when empty). The write is atomic so a crash cannot leave a
// half-written token, and the file is restricted to the owner.
func SaveCredentials(path string, creds *Credentials) error {
	if creds == nil {
		return fmt.Errorf("credentials cannot be nil")
	}
	if err := creds.Validate(); err != nil {
		return err
	}

	if path == "" {
		var err error
		path, err = CredentialsPath()
		if err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(creds); err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}

	if err := atomic.WriteFile(path, &buf); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}

	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("failed to restrict credentials permissions: %w", err)
	}

	return nil
}

// Validate checks that the credentials are complete enough to use.
func (c *Credentials) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("base URL cannot be empty")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base URL must use http or https, got %q", c.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("base URL %q has no host", c.BaseURL)
	}
	if strings.TrimSpace(c.Token) == "" {
		return fmt.Errorf("token cannot be empty")
	}
	return nil
}

// RedactedToken returns a display form of the token that is safe to
// print in `youtrek config` output.
func (c *Credentials) RedactedToken() string {
	if len(c.Token) <= 8 {
		return "********"
	}
	return "****" + c.Token[len(c.Token)-4:]
}
