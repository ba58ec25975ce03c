package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mintya/autoproxy/internal/config"
	"github.com/mintya/autoproxy/internal/gateway"
	"github.com/mintya/autoproxy/internal/maintenance"
	"github.com/mintya/autoproxy/internal/proxy"
	"github.com/mintya/autoproxy/internal/security"
)

// appOptions collects the flag-derived settings startCmd and the
// service subcommands both need to build an app.
type appOptions struct {
	configPath string
	port       int
	rateLimit  int
	auth       gateway.AuthConfig
}

// app wires every component together (Registry, Selector, Forwarder,
// Gateway, Maintenance sweep) and implements svc.Runner so it can run
// either in the foreground (`start`) or under an OS service manager
// (`service run`).
type app struct {
	logger   *slog.Logger
	gateway  *gateway.Server
	sweeper  *maintenance.Sweeper
	shutdown chan struct{}
}

// loadRegistry resolves the config path (writing a template and
// returning a config error if the *default* path is missing, per
// spec.md §6), loads and validates the provider list, and builds the
// Registry with persistence wired back to the same file.
func loadRegistry(logger *slog.Logger, opts appOptions) (*proxy.Registry, error) {
	path := opts.configPath
	explicit := path != ""
	if !explicit {
		resolved, err := config.DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("resolving default config path: %w", err)
		}
		path = resolved
	}

	providers, err := config.Load(path)
	if err != nil {
		if explicit {
			return nil, err
		}
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			if werr := config.WriteTemplate(path); werr != nil {
				return nil, fmt.Errorf("writing config template to %s: %w", path, werr)
			}
			return nil, fmt.Errorf("no configuration found; wrote a template to %s — edit it and restart", path)
		}
		return nil, err
	}

	providers, demoted := config.DemoteDuplicatePreferred(providers)
	if demoted {
		logger.Warn("multiple providers flagged preferred; all but the first demoted")
	}

	registry, err := proxy.NewRegistry(providers,
		proxy.WithPersist(func(ps []proxy.Provider) error {
			return config.Save(path, ps)
		}),
	)
	if err != nil {
		return nil, err
	}
	return registry, nil
}

// buildApp constructs every component from the given options but does
// not start anything; Run starts the gateway and sweeper and blocks.
func buildApp(opts appOptions) (*app, error) {
	bootLogger := newLogger()

	registry, err := loadRegistry(bootLogger, opts)
	if err != nil {
		return nil, err
	}

	// Every provider token is a literal the Redactor scrubs from log
	// output, regardless of how it reaches a log call (a %+v of a
	// Provider struct, an upstream error message that happens to echo
	// the Authorization header, etc. — proxy.MaskToken covers the
	// Forwarder's own deliberate logging, this covers everything else).
	redactor := security.NewRedactor()
	redactor.SyncProviderTokens(providerTokens(registry.Providers()))
	logger := slog.New(security.NewRedactingHandler(bootLogger.Handler(), redactor))

	selector := proxy.NewSelector(registry, opts.rateLimit)
	forwarder := proxy.NewForwarder(registry, selector, proxy.WithLogger(logger))

	auditLogger := security.NewAuditLogger(security.AuditLoggerConfig{
		Writer:   os.Stderr,
		Now:      time.Now,
		Redactor: redactor,
	})
	rateLimiter := security.NewRateLimiter(security.RateLimitConfig{})

	gwCfg := gateway.Config{
		Bind: fmt.Sprintf("0.0.0.0:%d", opts.port),
		Auth: opts.auth,
	}
	gw := gateway.NewServer(gwCfg, registry, forwarder,
		gateway.WithLogger(logger),
		gateway.WithRateLimiter(rateLimiter),
		gateway.WithAuditLogger(auditLogger),
	)

	sweeper := maintenance.New(registry, maintenance.WithLogger(logger))

	return &app{
		logger:   logger,
		gateway:  gw,
		sweeper:  sweeper,
		shutdown: make(chan struct{}),
	}, nil
}

// Run starts the gateway and maintenance sweep and blocks until
// Shutdown is called or the process receives SIGINT/SIGTERM.
// Implements svc.Runner.
func (a *app) Run() error {
	if err := a.gateway.Start(); err != nil {
		return asBindError(err)
	}
	if err := a.sweeper.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		a.logger.Info("received signal, shutting down", "signal", sig.String())
	case <-a.shutdown:
		a.logger.Info("shutdown requested")
	}

	a.sweeper.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return a.gateway.Stop(ctx)
}

// Shutdown requests a graceful stop. Implements svc.Runner.
func (a *app) Shutdown() {
	close(a.shutdown)
}

// providerTokens extracts the credential literals the Redactor should
// scrub from log output.
func providerTokens(providers []proxy.Provider) []string {
	tokens := make([]string, len(providers))
	for i, p := range providers {
		tokens[i] = p.Token
	}
	return tokens
}
