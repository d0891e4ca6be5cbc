// SPDX-License-Identifier: MIT

// Package service implements a single service's start/stop/restart
// semantics on top of a Child Process Handle, for both kinds a service can
// be: a single long-lived Synchronous command, or a pair of short-lived
// Asynchronous start/stop commands.
package service

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AmmieNyami/userserversd-go/internal/ipc"
	"github.com/AmmieNyami/userserversd-go/internal/process"
)

// ErrAlreadyRunning is returned by Start when the service is already running.
var ErrAlreadyRunning = errors.New("service: already running")

// ErrNotRunning is returned by Stop/Restart when the service is not running.
var ErrNotRunning = errors.New("service: not running")

// Service is a definition (immutable after construction) plus its mutable
// runtime state: whether it's running, its retained child handle (for
// Synchronous services only), and its log buffer.
type Service struct {
	mu sync.Mutex

	workingDirectory string
	environment      map[string]string
	group            *string
	kind             ipc.ServiceKind

	running bool
	child   *process.Handle
	logs    *process.LogBuffer

	log *slog.Logger
}

// Config carries the immutable fields needed to construct a Service.
type Config struct {
	WorkingDirectory string
	Environment      map[string]string
	Group            *string
	Kind             ipc.ServiceKind
	Logger           *slog.Logger
}

// New constructs a Service in the stopped state. It does not start anything;
// callers decide whether to autostart.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	env := cfg.Environment
	if env == nil {
		env = map[string]string{}
	}
	return &Service{
		workingDirectory: cfg.WorkingDirectory,
		environment:      env,
		group:            cfg.Group,
		kind:             cfg.Kind,
		logs:             process.NewLogBuffer(),
		log:              logger,
	}
}

// Definition returns a snapshot of this service's persisted shape.
func (s *Service) Definition() ipc.ServiceDefinition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ipc.ServiceDefinition{
		WorkingDirectory: s.workingDirectory,
		Environment:      s.environment,
		Group:            s.group,
		Kind:             s.kind,
	}
}

// IsRunning reports the current running state.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Logs returns a snapshot of the accumulated log buffer.
func (s *Service) Logs() string {
	return s.logs.Snapshot()
}

// Start begins the service. For a Synchronous service this spawns and
// retains the long-lived command. For an Asynchronous service this spawns
// the start command, waits for it to exit, and only marks the service
// running if it exits successfully.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}

	switch s.kind.Tag {
	case ipc.KindSynchronous:
		h, err := process.Start(s.kind.Sync.Command, s.workingDirectory, s.environment, s.logs)
		if err != nil {
			return fmt.Errorf("service: start: %w", err)
		}
		s.child = h
		s.running = true
		return nil
	case ipc.KindAsynchronous:
		if err := s.runToCompletion(s.kind.Async.StartCommand); err != nil {
			return fmt.Errorf("service: start command: %w", err)
		}
		s.running = true
		return nil
	default:
		return fmt.Errorf("service: unknown kind %q", s.kind.Tag)
	}
}

// Stop ends the service. For a Synchronous service this gracefully stops
// and discards the retained child handle. For an Asynchronous service this
// spawns the stop command, waits for it to exit, and only clears the
// running flag if it exits successfully.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return ErrNotRunning
	}

	switch s.kind.Tag {
	case ipc.KindSynchronous:
		child := s.child
		s.child = nil
		s.running = false
		if child == nil {
			return nil
		}
		if err := child.Stop(); err != nil {
			return fmt.Errorf("service: stop: %w", err)
		}
		return nil
	case ipc.KindAsynchronous:
		if err := s.runToCompletion(s.kind.Async.StopCommand); err != nil {
			return fmt.Errorf("service: stop command: %w", err)
		}
		s.running = false
		return nil
	default:
		return fmt.Errorf("service: unknown kind %q", s.kind.Tag)
	}
}

// Restart stops then starts the service. A stop failure aborts without
// attempting to start.
func (s *Service) Restart() error {
	if err := s.Stop(); err != nil {
		return err
	}
	return s.Start()
}

// runToCompletion spawns argv, waits for it to exit, and returns an error if
// it couldn't be spawned or exited non-zero. Its output joins the service's
// shared log buffer, same as a Synchronous service's long-lived command.
func (s *Service) runToCompletion(argv []string) error {
	h, err := process.Start(argv, s.workingDirectory, s.environment, s.logs)
	if err != nil {
		return err
	}
	return h.Wait()
}
