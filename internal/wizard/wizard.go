// Package wizard implements the interactive `config init` form: an
// operator-friendly alternative to hand-writing providers.json, used
// only when the operator explicitly runs `autoproxy config init`
// (spec.md §6's own "missing default path" behavior at `start` time
// stays non-interactive — it only writes a template and exits).
package wizard

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/mintya/autoproxy/internal/proxy"
)

// RunProviderForm collects one provider's fields interactively and
// returns it. The caller loops, asking whether to add another, and is
// responsible for validation/persistence (see internal/config).
func RunProviderForm(index int) (proxy.Provider, error) {
	var (
		name      string
		token     string
		baseURL   string
		preferred bool
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(fmt.Sprintf("Provider #%d name", index+1)).
				Description("A short identifier, e.g. \"primary\" or \"eu-west\".").
				Value(&name).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("name is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("API token").
				Description("Sent as \"Authorization: Bearer <token>\" to this provider.").
				EchoMode(huh.EchoModePassword).
				Value(&token).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("token is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("Base URL").
				Description("Absolute URL, no trailing slash, e.g. https://api.example.com").
				Value(&baseURL).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("base_url is required")
					}
					return nil
				}),
			huh.NewConfirm().
				Title("Mark as preferred?").
				Description("Only one provider may be preferred; a later choice demotes an earlier one.").
				Value(&preferred),
		),
	)

	if err := form.Run(); err != nil {
		return proxy.Provider{}, fmt.Errorf("wizard: collecting provider %d: %w", index, err)
	}

	return proxy.Provider{
		Name:      name,
		Token:     token,
		BaseURL:   baseURL,
		KeyType:   proxy.KeyTypeAuthToken,
		Preferred: preferred,
	}, nil
}

// RunAddAnother asks whether the operator wants to configure another
// provider.
func RunAddAnother() (bool, error) {
	var again bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Add another provider?").
				Value(&again),
		),
	)
	if err := form.Run(); err != nil {
		return false, fmt.Errorf("wizard: prompting for another provider: %w", err)
	}
	return again, nil
}

// RunProviderList drives the full add-provider loop, returning the
// collected list once the operator declines to add another.
func RunProviderList() ([]proxy.Provider, error) {
	var providers []proxy.Provider

	for {
		p, err := RunProviderForm(len(providers))
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)

		again, err := RunAddAnother()
		if err != nil {
			return nil, err
		}
		if !again {
			break
		}
	}

	return providers, nil
}
