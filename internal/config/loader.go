package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mintya/autoproxy/internal/proxy"
)

// ErrNotFound wraps a missing config file, letting the caller
// distinguish "default path absent, write a template" from "explicit
// path absent, fatal" (spec.md §6).
var ErrNotFound = errors.New("config: file not found")

// Load reads and validates a provider list from a JSON config file
// (spec.md §6's schema: a bare JSON array of provider objects).
func Load(path string) ([]proxy.Provider, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var providers []proxy.Provider
	if err := json.Unmarshal(raw, &providers); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := Validate(providers); err != nil {
		return nil, fmt.Errorf("config: validating %s: %w", path, err)
	}

	return providers, nil
}

// Save atomically writes providers to path: marshal, write to a
// sibling temp file, then rename over the target (spec.md §6's
// persistence callback contract: "write to a temp file and rename").
// Implements [proxy.PersistFunc].
func Save(path string, providers []proxy.Provider) error {
	raw, err := json.MarshalIndent(providers, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshaling providers: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("config: creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".providers-*.json.tmp")
	if err != nil {
		return fmt.Errorf("config: creating temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("config: writing %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("config: closing %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("config: renaming %s to %s: %w", tmpPath, path, err)
	}
	return nil
}

// DefaultPath returns the default config path under the user's home
// directory (spec.md §6: `~/.claude-proxy-manager/providers.json`).
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolving home directory: %w", err)
	}
	return filepath.Join(home, DefaultRelPath), nil
}

// WriteTemplate writes a single-provider example document to path,
// creating parent directories as needed. Used when the *default*
// config path is missing at startup (spec.md §6: "a missing default
// path causes a template to be written and the process to exit with a
// 'please edit' message").
func WriteTemplate(path string) error {
	template := []proxy.Provider{
		{
			Name:      "example",
			Token:     "replace-with-your-token",
			BaseURL:   "https://api.example.com",
			KeyType:   proxy.KeyTypeAuthToken,
			Preferred: true,
		},
	}
	return Save(path, template)
}
