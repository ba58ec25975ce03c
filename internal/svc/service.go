// Package svc wraps the proxy's start loop in a kardianos/service.Service
// so it can be installed and run as an OS-level background service
// (spec.md §4.7's `service install|uninstall|start|stop|run` subcommands).
package svc

import (
	"log/slog"

	"github.com/kardianos/service"
)

// Name and DisplayName identify the installed OS service.
const (
	Name        = "autoproxy"
	DisplayName = "Auto Proxy"
	Description = "Local HTTP forward-proxy with failover across equivalent upstream API providers."
)

// Runner is the subset of the `start` command's lifecycle the service
// manager drives: Run blocks until Shutdown is called or the process
// receives a termination signal, Shutdown requests a graceful stop.
type Runner interface {
	Run() error
	Shutdown()
}

// program adapts a Runner to kardianos/service's Program interface.
type program struct {
	runner Runner
	logger *slog.Logger
	errCh  chan error
}

// Compile-time interface check.
var _ service.Interface = (*program)(nil)

func (p *program) Start(s service.Service) error {
	// Start must not block; kardianos/service calls it on the main
	// goroutine during service startup.
	go func() {
		if err := p.runner.Run(); err != nil {
			p.logger.Error("service run failed", "error", err)
			p.errCh <- err
		}
	}()
	return nil
}

func (p *program) Stop(s service.Service) error {
	p.runner.Shutdown()
	return nil
}

// New builds the kardianos/service.Service wrapping runner.
func New(runner Runner, logger *slog.Logger) (service.Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := &service.Config{
		Name:        Name,
		DisplayName: DisplayName,
		Description: Description,
	}
	prg := &program{runner: runner, logger: logger, errCh: make(chan error, 1)}
	return service.New(prg, cfg)
}

// Install registers the service with the OS service manager.
func Install(runner Runner, logger *slog.Logger) error {
	s, err := New(runner, logger)
	if err != nil {
		return err
	}
	return s.Install()
}

// Uninstall removes the service from the OS service manager.
func Uninstall(runner Runner, logger *slog.Logger) error {
	s, err := New(runner, logger)
	if err != nil {
		return err
	}
	return s.Uninstall()
}

// StartInstalled starts the already-installed service via the OS
// service manager (distinct from Run, which is the in-process entry
// point the manager itself invokes).
func StartInstalled(runner Runner, logger *slog.Logger) error {
	s, err := New(runner, logger)
	if err != nil {
		return err
	}
	return s.Start()
}

// StopInstalled stops the already-installed service via the OS service
// manager.
func StopInstalled(runner Runner, logger *slog.Logger) error {
	s, err := New(runner, logger)
	if err != nil {
		return err
	}
	return s.Stop()
}

// Run is the entry point the OS service manager invokes (the `service
// run` subcommand): it blocks until the service manager stops it.
func Run(runner Runner, logger *slog.Logger) error {
	s, err := New(runner, logger)
	if err != nil {
		return err
	}
	return s.Run()
}
