package main

import (
	"fmt"

	"github.com/mintya/autoproxy/internal/svc"
	"github.com/spf13/cobra"
)

// serviceCmd wraps start in a kardianos/service.Service so the proxy
// can run as an OS-level background service (spec.md §4.7).
func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Install or control autoproxy as an OS background service",
	}

	install := &cobra.Command{
		Use:   "install",
		Short: "Install the OS service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			runner, err := serviceRunner(cmd)
			if err != nil {
				return asConfigError(err)
			}
			if err := svc.Install(runner, newLogger()); err != nil {
				return err
			}
			fmt.Println("service installed")
			return nil
		},
	}

	uninstall := &cobra.Command{
		Use:   "uninstall",
		Short: "Uninstall the OS service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			runner, err := serviceRunner(cmd)
			if err != nil {
				return asConfigError(err)
			}
			if err := svc.Uninstall(runner, newLogger()); err != nil {
				return err
			}
			fmt.Println("service uninstalled")
			return nil
		},
	}

	start := &cobra.Command{
		Use:   "start",
		Short: "Start the installed OS service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			runner, err := serviceRunner(cmd)
			if err != nil {
				return asConfigError(err)
			}
			return svc.StartInstalled(runner, newLogger())
		},
	}

	stop := &cobra.Command{
		Use:   "stop",
		Short: "Stop the installed OS service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			runner, err := serviceRunner(cmd)
			if err != nil {
				return asConfigError(err)
			}
			return svc.StopInstalled(runner, newLogger())
		},
	}

	run := &cobra.Command{
		Use:    "run",
		Short:  "Entry point invoked by the OS service manager",
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			runner, err := serviceRunner(cmd)
			if err != nil {
				return asConfigError(err)
			}
			return svc.Run(runner, newLogger())
		},
	}

	for _, sub := range []*cobra.Command{install, uninstall, start, stop, run} {
		addStartFlags(sub)
	}
	cmd.AddCommand(install, uninstall, start, stop, run)
	return cmd
}

// deferredApp satisfies svc.Runner without loading the config or
// binding a port until Run is actually invoked — install/uninstall
// only need a Runner identity to register with the OS service
// manager, and must not fail just because the config isn't ready yet.
type deferredApp struct {
	opts appOptions
	real *app
}

func (d *deferredApp) Run() error {
	a, err := buildApp(d.opts)
	if err != nil {
		return asConfigError(err)
	}
	d.real = a
	return a.Run()
}

func (d *deferredApp) Shutdown() {
	if d.real != nil {
		d.real.Shutdown()
	}
}

// serviceRunner builds a Runner carrying the flag-derived options;
// the underlying app is only constructed when Run is invoked (by the
// service manager, for `run`), not at install/uninstall/start/stop time.
func serviceRunner(cmd *cobra.Command) (*deferredApp, error) {
	opts, err := appOptionsFromFlags(cmd)
	if err != nil {
		return nil, err
	}
	return &deferredApp{opts: opts}, nil
}
