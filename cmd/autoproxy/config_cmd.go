package main

import (
	"fmt"

	"github.com/mintya/autoproxy/internal/config"
	"github.com/mintya/autoproxy/internal/wizard"
	"github.com/spf13/cobra"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(configCheckCmd(), configInitCmd())
	return cmd
}

func configCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <path>",
		Short: "Validate a provider config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			providers, err := config.Load(args[0])
			if err != nil {
				return asConfigError(err)
			}

			_, demoted := config.DemoteDuplicatePreferred(providers)
			if demoted {
				fmt.Println("warning: multiple providers flagged preferred; all but the first would be demoted at load")
			}

			fmt.Printf("Configuration OK (%d providers)\n", len(providers))
			for _, p := range providers {
				marker := ""
				if p.Preferred {
					marker = " (preferred)"
				}
				fmt.Printf("  %s%s\n", p.Name, marker)
			}
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [path]",
		Short: "Interactively build a provider config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				resolved, err := config.DefaultPath()
				if err != nil {
					return asConfigError(err)
				}
				path = resolved
			}

			providers, err := wizard.RunProviderList()
			if err != nil {
				return asConfigError(err)
			}

			providers, demoted := config.DemoteDuplicatePreferred(providers)
			if demoted {
				fmt.Println("warning: multiple providers flagged preferred; all but the first demoted")
			}
			if err := config.Validate(providers); err != nil {
				return asConfigError(err)
			}

			if err := config.Save(path, providers); err != nil {
				return asConfigError(err)
			}
			fmt.Printf("Wrote %d provider(s) to %s\n", len(providers), path)
			return nil
		},
	}
}
