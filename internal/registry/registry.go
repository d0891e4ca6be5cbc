// SPDX-License-Identifier: MIT

// Package registry owns every Service, mediates all add/remove/start/stop/
// status/list operations behind a single exclusive guard, and persists
// service definitions to a configuration file on every mutation.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/AmmieNyami/userserversd-go/internal/config"
	"github.com/AmmieNyami/userserversd-go/internal/ipc"
	"github.com/AmmieNyami/userserversd-go/internal/service"
)

// ErrAlreadyExists is returned by an Add* call when the name is already in use.
var ErrAlreadyExists = errors.New("registry: service already exists")

// ErrDoesNotExist is returned by an operation naming a service that isn't registered.
var ErrDoesNotExist = errors.New("registry: service does not exist")

// Registry is the named mapping from service name to Service. Every method
// that mutates or reads the map acquires mu for its full duration, including
// any child process waits an Asynchronous operation performs — this is
// deliberate (see the concurrency design notes): low command volume makes a
// single registry-wide guard acceptable.
type Registry struct {
	mu       sync.Mutex
	services map[string]*service.Service

	configPath string
	backupDir  string
	keepBackups int

	log *slog.Logger
}

// Options configures a new Registry.
type Options struct {
	ConfigPath  string
	BackupDir   string
	KeepBackups int
	Logger      *slog.Logger
}

// New builds a Registry, loading any persisted definitions from ConfigPath
// and autostarting each one. A missing file is normal (empty registry); a
// file that fails to parse yields an empty registry with a logged warning,
// and is left on disk untouched until the next mutation.
func New(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	keep := opts.KeepBackups
	if keep <= 0 {
		keep = config.DefaultKeepBackups
	}

	r := &Registry{
		services:    map[string]*service.Service{},
		configPath:  opts.ConfigPath,
		backupDir:   opts.BackupDir,
		keepBackups: keep,
		log:         logger,
	}

	r.bootstrap()
	return r
}

func (r *Registry) bootstrap() {
	if r.configPath == "" {
		return
	}
	data, err := os.ReadFile(r.configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			r.log.Warn("registry: failed to read configuration file", "path", r.configPath, "error", err)
		}
		return
	}

	var defs map[string]ipc.ServiceDefinition
	if err := json.Unmarshal(data, &defs); err != nil {
		r.log.Warn("registry: configuration file failed to parse, starting with an empty registry",
			"path", r.configPath, "error", err)
		return
	}

	for name, def := range defs {
		svc := service.New(service.Config{
			WorkingDirectory: def.WorkingDirectory,
			Environment:      def.Environment,
			Group:            def.Group,
			Kind:             def.Kind,
			Logger:           r.log,
		})
		r.services[name] = svc
		if err := svc.Start(); err != nil {
			r.log.Warn("registry: autostart failed", "service", name, "error", err)
		}
	}
}

// AddSynchronous registers a new Synchronous service, best-effort starts it,
// and persists the registry.
func (r *Registry) AddSynchronous(name, workDir string, env map[string]string, group *string, command []string) error {
	return r.add(name, ipc.ServiceDefinition{
		WorkingDirectory: workDir,
		Environment:      env,
		Group:            group,
		Kind:             ipc.ServiceKind{Tag: ipc.KindSynchronous, Sync: &ipc.SynchronousKind{Command: command}},
	})
}

// AddAsynchronous registers a new Asynchronous service, best-effort starts
// it, and persists the registry.
func (r *Registry) AddAsynchronous(name, workDir string, env map[string]string, group *string, startCmd, stopCmd []string) error {
	return r.add(name, ipc.ServiceDefinition{
		WorkingDirectory: workDir,
		Environment:      env,
		Group:            group,
		Kind: ipc.ServiceKind{Tag: ipc.KindAsynchronous, Async: &ipc.AsynchronousKind{
			StartCommand: startCmd,
			StopCommand:  stopCmd,
		}},
	})
}

func (r *Registry) add(name string, def ipc.ServiceDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.services[name]; exists {
		return ErrAlreadyExists
	}

	svc := service.New(service.Config{
		WorkingDirectory: def.WorkingDirectory,
		Environment:      def.Environment,
		Group:            def.Group,
		Kind:             def.Kind,
		Logger:           r.log,
	})
	r.services[name] = svc

	if err := svc.Start(); err != nil {
		r.log.Warn("registry: add: autostart failed", "service", name, "error", err)
	}

	r.flushLocked()
	return nil
}

// Remove stops (if running) and deletes a service, then persists.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	svc, ok := r.services[name]
	if !ok {
		return ErrDoesNotExist
	}
	if svc.IsRunning() {
		if err := svc.Stop(); err != nil {
			r.log.Warn("registry: remove: stop failed", "service", name, "error", err)
		}
	}
	delete(r.services, name)
	r.flushLocked()
	return nil
}

// Start starts a named service. No definition changed, so nothing is persisted.
func (r *Registry) Start(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	svc, ok := r.services[name]
	if !ok {
		return ErrDoesNotExist
	}
	return svc.Start()
}

// Stop stops a named service. No definition changed, so nothing is persisted.
func (r *Registry) Stop(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	svc, ok := r.services[name]
	if !ok {
		return ErrDoesNotExist
	}
	return svc.Stop()
}

// Restart restarts a named service. No definition changed, so nothing is persisted.
func (r *Registry) Restart(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	svc, ok := r.services[name]
	if !ok {
		return ErrDoesNotExist
	}
	return svc.Restart()
}

// Status returns a snapshot of one service's definition, running flag, and logs.
func (r *Registry) Status(name string) (ipc.ServiceStatusPayload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	svc, ok := r.services[name]
	if !ok {
		return ipc.ServiceStatusPayload{}, ErrDoesNotExist
	}
	return ipc.ServiceStatusPayload{
		Service: svc.Definition(),
		Running: svc.IsRunning(),
		Logs:    svc.Logs(),
	}, nil
}

// List returns every service's definition snapshot, keyed by name.
func (r *Registry) List() map[string]ipc.ServiceDefinition {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]ipc.ServiceDefinition, len(r.services))
	for name, svc := range r.services {
		out[name] = svc.Definition()
	}
	return out
}

// StopAll stops every currently running service, logging (not aborting on)
// individual failures. Intended for daemon shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, svc := range r.services {
		if !svc.IsRunning() {
			continue
		}
		if err := svc.Stop(); err != nil {
			r.log.Warn("registry: stop_all: stop failed", "service", name, "error", err)
		}
	}
}

// flushLocked persists the registry to disk. Callers must hold mu.
func (r *Registry) flushLocked() {
	if r.configPath == "" {
		return
	}

	defs := make(map[string]ipc.ServiceDefinition, len(r.services))
	for name, svc := range r.services {
		defs[name] = svc.Definition()
	}

	payload, err := json.MarshalIndent(defs, "", "  ")
	if err != nil {
		r.log.Warn("registry: flush: marshal failed", "error", err)
		return
	}

	if err := r.backupLocked(); err != nil {
		r.log.Warn("registry: flush: backup failed, continuing with write", "error", err)
	}

	if err := atomicWriteFile(r.configPath, payload, 0o600); err != nil {
		r.log.Warn("registry: flush: write failed", "path", r.configPath, "error", err)
	}
}

// atomicWriteFile writes data to a temp file in dir's directory and renames
// it over path, so a crash mid-write never leaves a truncated configuration
// file on disk.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
