// SPDX-License-Identifier: MIT

// Package ipcserver accepts connections on the daemon's Unix-domain socket
// and runs one handler goroutine per connection: read a command, dispatch it
// to the registry, write the response, repeat until the client disconnects.
package ipcserver

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"

	"github.com/AmmieNyami/userserversd-go/internal/ipc"
	"github.com/AmmieNyami/userserversd-go/internal/registry"
	"github.com/AmmieNyami/userserversd-go/internal/util"
)

// Dispatcher is the subset of *registry.Registry the connection handler
// needs. Defined as an interface so tests can substitute a fake registry.
type Dispatcher interface {
	AddSynchronous(name, workDir string, env map[string]string, group *string, command []string) error
	AddAsynchronous(name, workDir string, env map[string]string, group *string, startCmd, stopCmd []string) error
	Remove(name string) error
	Start(name string) error
	Stop(name string) error
	Restart(name string) error
	Status(name string) (ipc.ServiceStatusPayload, error)
	List() map[string]ipc.ServiceDefinition
}

var _ Dispatcher = (*registry.Registry)(nil)

// Server listens on a Unix-domain socket and serves the IPC protocol.
type Server struct {
	reg Dispatcher
	log *slog.Logger
}

// New builds a Server dispatching onto reg.
func New(reg Dispatcher, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{reg: reg, log: log}
}

// Serve accepts connections from ln until it returns an error (typically
// because the listener was closed during shutdown), spawning one handler
// goroutine per accepted connection. A listener-closed error is swallowed
// and returned as nil; any other accept error is returned to the caller.
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("ipcserver: accept: %w", err)
		}

		util.SafeGo("ipcserver-conn", os.Stderr, func() {
			s.handleConn(conn)
		}, nil)
	}
}

// handleConn runs the read-dispatch-respond loop for one connection until
// the client closes it or a write fails.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	r := bufio.NewReader(conn)
	for {
		cmd, err := ipc.ReadCommand(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			if errors.Is(err, ipc.ErrTruncatedFrame) {
				return
			}
			// Decode error: the frame reader already consumed through the
			// sentinel, so the stream is resynchronized. Swallow and keep
			// reading, per the protocol's policy for malformed frames.
			s.log.Warn("ipcserver: decode error, continuing", "error", err)
			continue
		}

		resp := s.safeDispatch(cmd)

		if err := ipc.WriteResponse(conn, resp); err != nil {
			s.log.Warn("ipcserver: write response failed", "error", err)
			return
		}
	}
}

// safeDispatch runs dispatch with panic recovery, so one malformed or
// unexpectedly-handled command cannot tear down the whole connection (and,
// since handleConn itself also runs under util.SafeGo, would otherwise only
// have cost that one client its connection anyway — this narrows the blast
// radius further, to just the one command).
func (s *Server) safeDispatch(cmd ipc.Command) ipc.Response {
	var resp ipc.Response
	if err := util.RecoverToPanic(func() error {
		resp = s.dispatch(cmd)
		return nil
	}); err != nil {
		s.log.Error("ipcserver: dispatch panicked, recovered", "tag", cmd.Tag, "error", err)
		return ipc.Err(ipc.StatusServiceDoesNotExist)
	}
	return resp
}

// dispatch executes one command against the registry and maps its outcome
// onto a Response.
func (s *Server) dispatch(cmd ipc.Command) ipc.Response {
	switch cmd.Tag {
	case ipc.TagAddSynchronousService:
		p := cmd.AddSynchronousService
		err := s.reg.AddSynchronous(p.Name, p.WorkingDirectory, p.Environment, p.Group, p.Command)
		return statusResponse(err)

	case ipc.TagAddAsynchronousService:
		p := cmd.AddAsynchronousService
		err := s.reg.AddAsynchronous(p.Name, p.WorkingDirectory, p.Environment, p.Group, p.StartCommand, p.StopCommand)
		return statusResponse(err)

	case ipc.TagRemoveService:
		err := s.reg.Remove(cmd.Named.Name)
		return statusResponse(err)

	case ipc.TagStartService:
		err := s.reg.Start(cmd.Named.Name)
		return statusResponse(err)

	case ipc.TagStopService:
		err := s.reg.Stop(cmd.Named.Name)
		return statusResponse(err)

	case ipc.TagRestartService:
		err := s.reg.Restart(cmd.Named.Name)
		return statusResponse(err)

	case ipc.TagGetServiceStatus:
		st, err := s.reg.Status(cmd.Named.Name)
		if err != nil {
			return statusResponse(err)
		}
		return ipc.OkStatus(st)

	case ipc.TagListServices:
		return ipc.OkList(ipc.ServiceListPayload{Services: s.reg.List()})

	default:
		s.log.Warn("ipcserver: unknown command tag", "tag", cmd.Tag)
		return ipc.Err(ipc.StatusServiceDoesNotExist)
	}
}

// statusResponse maps a registry/service error onto a Response. Start/Stop/
// Restart failures (I/O errors launching or waiting on a child, or the
// ServiceAlreadyRunning/ServiceNotRunning state errors) have no dedicated
// wire status in spec.md's protocol; they are logged here and reported to
// the client as Ok/None, matching the spec's "failures are logged and
// reported to the client" policy for operations that otherwise succeeded
// in reaching and invoking the named service.
func statusResponse(err error) ipc.Response {
	switch {
	case err == nil:
		return ipc.OkNone()
	case errors.Is(err, registry.ErrAlreadyExists):
		return ipc.Err(ipc.StatusServiceAlreadyExists)
	case errors.Is(err, registry.ErrDoesNotExist):
		return ipc.Err(ipc.StatusServiceDoesNotExist)
	default:
		slog.Warn("ipcserver: operation failed, reporting Ok", "error", err)
		return ipc.OkNone()
	}
}
