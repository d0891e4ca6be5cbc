// SPDX-License-Identifier: MIT

// Package daemon wires together the registry, the IPC server, and a small
// suture supervision tree hosting the acceptor and the OS signal watcher,
// and orchestrates graceful startup and shutdown (spec.md §4.6).
package daemon

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/AmmieNyami/userserversd-go/internal/config"
	"github.com/AmmieNyami/userserversd-go/internal/health"
	"github.com/AmmieNyami/userserversd-go/internal/ipcserver"
	"github.com/AmmieNyami/userserversd-go/internal/lock"
	"github.com/AmmieNyami/userserversd-go/internal/registry"
	"github.com/AmmieNyami/userserversd-go/internal/util"
)

// Daemon boots the registry, binds the IPC socket, and runs until a shutdown
// signal or a fatal acceptor error is observed.
type Daemon struct {
	Registry   *registry.Registry
	Config     *config.DaemonConfig
	SocketPath string
	Log        *slog.Logger

	instanceLock *lock.FileLock
}

// New constructs a Daemon. Callers are expected to have already built the
// Registry (which autostarts persisted services on construction).
func New(reg *registry.Registry, cfg *config.DaemonConfig, socketPath string, log *slog.Logger) *Daemon {
	if log == nil {
		log = slog.Default()
	}
	return &Daemon{
		Registry:   reg,
		Config:     cfg,
		SocketPath: socketPath,
		Log:        log,
	}
}

// Run binds the socket, serves IPC connections, and blocks until shutdown,
// returning the process exit code: 0 for a clean signal-driven shutdown, 1
// for a fatal startup error (spec.md §6 exit codes).
func (d *Daemon) Run(lockPath string) int {
	fl, err := lock.NewFileLock(lockPath)
	if err != nil {
		d.Log.Error("daemon: failed to prepare instance lock", "error", err)
		return 1
	}
	if err := fl.Acquire(0); err != nil {
		d.Log.Error("daemon: another userserversd instance appears to be running", "lock", lockPath, "error", err)
		return 1
	}
	d.instanceLock = fl
	defer fl.Close()

	// A stale socket from a previous unclean shutdown prevents bind.
	_ = os.Remove(d.SocketPath)

	ln, err := net.Listen("unix", d.SocketPath)
	if err != nil {
		d.Log.Error("daemon: failed to bind socket", "path", d.SocketPath, "error", err)
		return 1
	}
	if err := os.Chmod(d.SocketPath, 0o700); err != nil {
		d.Log.Warn("daemon: failed to set socket permissions", "path", d.SocketPath, "error", err)
	}
	d.Log.Info("daemon: listening for commands", "socket", d.SocketPath)

	srv := ipcserver.New(d.Registry, d.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exitCode := 0
	setExit := func(code int) {
		exitCode = code
		cancel()
	}

	sup := suture.NewSimple("userserversd")
	sup.Add(&acceptorService{ln: ln, srv: srv, log: d.Log, onFatal: func() { setExit(1) }})
	sup.Add(&signalService{onShutdown: func() { setExit(0) }})

	if d.Config != nil && d.Config.HealthAddr != "" {
		sup.Add(&healthService{
			addr: d.Config.HealthAddr,
			log:  d.Log,
			provider: registryHealthProvider{reg: d.Registry},
		})
	}

	supDone := make(chan struct{})
	go func() {
		_ = sup.Serve(ctx)
		close(supDone)
	}()

	<-ctx.Done()

	d.Log.Info("daemon: shutdown requested, stopping services", "exit_code", exitCode)
	d.Registry.StopAll()

	_ = ln.Close()
	select {
	case <-supDone:
	case <-time.After(5 * time.Second):
		d.Log.Warn("daemon: supervision tree did not shut down within timeout")
	}

	if exitCode == 0 {
		if err := os.Remove(d.SocketPath); err != nil && !os.IsNotExist(err) {
			d.Log.Warn("daemon: failed to remove socket file", "path", d.SocketPath, "error", err)
		}
	}

	return exitCode
}

// acceptorService wraps the IPC server's accept loop as a suture.Service.
type acceptorService struct {
	ln      net.Listener
	srv     *ipcserver.Server
	log     *slog.Logger
	onFatal func()
}

func (a *acceptorService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	util.SafeGoWithRecover("ipcserver-acceptor", os.Stderr, func() error {
		return a.srv.Serve(a.ln)
	}, errCh, nil)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			a.log.Error("daemon: acceptor failed", "error", err)
			if a.onFatal != nil {
				a.onFatal()
			}
		}
		return err
	}
}

// signalService watches for SIGINT/SIGTERM and requests a clean shutdown.
type signalService struct {
	onShutdown func()
}

func (s *signalService) Serve(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		return nil
	case <-sigCh:
		if s.onShutdown != nil {
			s.onShutdown()
		}
		return nil
	}
}

// healthService runs the optional /healthz and /metrics endpoint for the
// lifetime of the supervision tree.
type healthService struct {
	addr     string
	log      *slog.Logger
	provider health.StatusProvider
}

func (h *healthService) Serve(ctx context.Context) error {
	err := health.ListenAndServe(ctx, h.addr, health.NewHandler(h.provider))
	if err != nil && ctx.Err() == nil {
		h.log.Warn("daemon: health endpoint stopped", "error", err)
	}
	return nil
}

// registryHealthProvider adapts *registry.Registry to health.StatusProvider.
type registryHealthProvider struct {
	reg *registry.Registry
}

func (p registryHealthProvider) Services() []health.ServiceInfo {
	names := p.reg.List()
	out := make([]health.ServiceInfo, 0, len(names))
	for name, def := range names {
		st, err := p.reg.Status(name)
		if err != nil {
			continue
		}
		group := ""
		if def.Group != nil {
			group = *def.Group
		}
		out = append(out, health.ServiceInfo{
			Name:     name,
			Group:    group,
			Running:  st.Running,
			LogBytes: len(st.Logs),
		})
	}
	return out
}
