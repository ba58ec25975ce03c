package main

import (
	"github.com/mintya/autoproxy/internal/gateway"
	"github.com/spf13/cobra"
)

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the proxy: load the config, build the pool, serve until SIGINT/SIGTERM",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := appOptionsFromFlags(cmd)
			if err != nil {
				return asConfigError(err)
			}

			a, err := buildApp(opts)
			if err != nil {
				return asConfigError(err)
			}
			return a.Run()
		},
	}
	addStartFlags(cmd)
	return cmd
}

// addStartFlags registers the flags common to `start` and `service run`
// (spec.md §6).
func addStartFlags(cmd *cobra.Command) {
	cmd.Flags().Int("port", 8080, "Listen port")
	cmd.Flags().Int("rate-limit", 5, "Requests per minute per provider")
	cmd.Flags().String("admin-bearer-token", "", "Bearer token required for /status admin endpoints (unset disables the admin surface)")
	cmd.Flags().String("admin-basic-user", "", "Basic auth username for /status admin endpoints")
	cmd.Flags().String("admin-basic-pass", "", "Basic auth password for /status admin endpoints")
}

func appOptionsFromFlags(cmd *cobra.Command) (appOptions, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return appOptions{}, err
	}
	port, err := cmd.Flags().GetInt("port")
	if err != nil {
		return appOptions{}, err
	}
	rateLimit, err := cmd.Flags().GetInt("rate-limit")
	if err != nil {
		return appOptions{}, err
	}
	bearer, err := cmd.Flags().GetString("admin-bearer-token")
	if err != nil {
		return appOptions{}, err
	}
	basicUser, err := cmd.Flags().GetString("admin-basic-user")
	if err != nil {
		return appOptions{}, err
	}
	basicPass, err := cmd.Flags().GetString("admin-basic-pass")
	if err != nil {
		return appOptions{}, err
	}

	return appOptions{
		configPath: configPath,
		port:       port,
		rateLimit:  rateLimit,
		auth: gateway.AuthConfig{
			BearerToken: bearer,
			BasicUser:   basicUser,
			BasicPass:   basicPass,
		},
	}, nil
}
