// Package config handles JSON provider-list loading, validation, and
// atomic persistence for Auto Proxy (spec.md §6).
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/mintya/autoproxy/internal/proxy"
)

// DefaultRelPath is appended to the user's home directory to form the
// default config path consumed by cmd/autoproxy when --config is not
// given.
const DefaultRelPath = ".claude-proxy-manager/providers.json"

// Validate checks the structural validity of a freshly-decoded provider
// list: an empty list is always an error (spec.md §6: "an empty array
// ... is fatal"); each entry's fields are checked individually. It does
// NOT enforce "at most one preferred" — that demotion is the
// Registry's job at load time (spec.md §6: "the first wins and others
// are demoted at load, warn"), so it can be logged by the caller
// alongside the rest of startup, not buried in config parsing.
func Validate(providers []proxy.Provider) error {
	var errs []error

	if len(providers) == 0 {
		errs = append(errs, errors.New("config: provider list is empty"))
		return errors.Join(errs...)
	}

	seen := make(map[string]bool, len(providers))
	for i, p := range providers {
		errs = append(errs, validateOne(i, p)...)
		if p.Name != "" {
			if seen[p.Name] {
				errs = append(errs, fmt.Errorf("config: providers[%d]: duplicate name %q", i, p.Name))
			}
			seen[p.Name] = true
		}
	}

	return errors.Join(errs...)
}

func validateOne(i int, p proxy.Provider) []error {
	var errs []error

	if p.Name == "" {
		errs = append(errs, fmt.Errorf("config: providers[%d]: name is required", i))
	}
	if p.Token == "" {
		errs = append(errs, fmt.Errorf("config: providers[%d]: token is required", i))
	}

	if p.BaseURL == "" {
		errs = append(errs, fmt.Errorf("config: providers[%d]: base_url is required", i))
	} else {
		u, err := url.Parse(p.BaseURL)
		if err != nil || !u.IsAbs() {
			errs = append(errs, fmt.Errorf("config: providers[%d]: base_url %q is not an absolute URL", i, p.BaseURL))
		} else if strings.HasSuffix(p.BaseURL, "/") {
			errs = append(errs, fmt.Errorf("config: providers[%d]: base_url %q must not have a trailing slash", i, p.BaseURL))
		}
	}

	switch p.KeyType {
	case proxy.KeyTypeAuthToken, "":
		// "" defaults to KeyTypeAuthToken at the registry; accepted here too.
	default:
		errs = append(errs, fmt.Errorf("config: providers[%d]: unknown key_type %q", i, p.KeyType))
	}

	return errs
}

// DemoteDuplicatePreferred returns a copy of providers with every entry
// after the first preferred=true demoted, plus whether a demotion
// occurred (for the caller to log a warning). This mirrors the
// demotion [proxy.NewRegistry] performs internally, exposed here so
// config.Load and config check can warn about it before the registry
// is even built.
func DemoteDuplicatePreferred(providers []proxy.Provider) (out []proxy.Provider, demoted bool) {
	out = make([]proxy.Provider, len(providers))
	copy(out, providers)

	seen := false
	for i := range out {
		if !out[i].Preferred {
			continue
		}
		if seen {
			out[i].Preferred = false
			demoted = true
			continue
		}
		seen = true
	}
	return out, demoted
}
