package ipcserver

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/AmmieNyami/userserversd-go/internal/ipc"
	"github.com/AmmieNyami/userserversd-go/internal/registry"
)

// fakeDispatcher is an in-memory Dispatcher for exercising the server loop
// without a real registry or subprocesses.
type fakeDispatcher struct {
	mu    sync.Mutex
	defs  map[string]ipc.ServiceDefinition
	calls []string
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{defs: map[string]ipc.ServiceDefinition{}}
}

func (f *fakeDispatcher) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeDispatcher) AddSynchronous(name, workDir string, env map[string]string, group *string, command []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("AddSynchronous:" + name)
	if _, ok := f.defs[name]; ok {
		return registry.ErrAlreadyExists
	}
	f.defs[name] = ipc.ServiceDefinition{
		WorkingDirectory: workDir,
		Environment:      env,
		Group:            group,
		Kind:             ipc.ServiceKind{Tag: ipc.KindSynchronous, Sync: &ipc.SynchronousKind{Command: command}},
	}
	return nil
}

func (f *fakeDispatcher) AddAsynchronous(name, workDir string, env map[string]string, group *string, startCmd, stopCmd []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("AddAsynchronous:" + name)
	if _, ok := f.defs[name]; ok {
		return registry.ErrAlreadyExists
	}
	f.defs[name] = ipc.ServiceDefinition{
		WorkingDirectory: workDir,
		Environment:      env,
		Group:            group,
		Kind: ipc.ServiceKind{Tag: ipc.KindAsynchronous, Async: &ipc.AsynchronousKind{
			StartCommand: startCmd,
			StopCommand:  stopCmd,
		}},
	}
	return nil
}

func (f *fakeDispatcher) Remove(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Remove:" + name)
	if _, ok := f.defs[name]; !ok {
		return registry.ErrDoesNotExist
	}
	delete(f.defs, name)
	return nil
}

func (f *fakeDispatcher) Start(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Start:" + name)
	if _, ok := f.defs[name]; !ok {
		return registry.ErrDoesNotExist
	}
	return nil
}

func (f *fakeDispatcher) Stop(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Stop:" + name)
	if _, ok := f.defs[name]; !ok {
		return registry.ErrDoesNotExist
	}
	return nil
}

func (f *fakeDispatcher) Restart(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Restart:" + name)
	if _, ok := f.defs[name]; !ok {
		return registry.ErrDoesNotExist
	}
	return nil
}

func (f *fakeDispatcher) Status(name string) (ipc.ServiceStatusPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Status:" + name)
	def, ok := f.defs[name]
	if !ok {
		return ipc.ServiceStatusPayload{}, registry.ErrDoesNotExist
	}
	return ipc.ServiceStatusPayload{Service: def, Running: true, Logs: ""}, nil
}

func (f *fakeDispatcher) List() map[string]ipc.ServiceDefinition {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("List")
	out := make(map[string]ipc.ServiceDefinition, len(f.defs))
	for k, v := range f.defs {
		out[k] = v
	}
	return out
}

var _ Dispatcher = (*fakeDispatcher)(nil)

// pipeServer starts a Server on one half of a net.Pipe and returns the other
// half for the test to drive.
func pipeServer(t *testing.T, disp Dispatcher) net.Conn {
	t.Helper()
	client, server := net.Pipe()
	srv := New(disp, slog.Default())
	go srv.handleConn(server)
	t.Cleanup(func() { client.Close() })
	return client
}

func roundTrip(t *testing.T, r *bufio.Reader, w io.Writer, cmd ipc.Command) ipc.Response {
	t.Helper()
	if err := ipc.WriteCommand(w, cmd); err != nil {
		t.Fatalf("write command: %v", err)
	}
	resp, err := ipc.ReadResponse(r)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp
}

func TestHandleConnAddStartStatusRemove(t *testing.T) {
	disp := newFakeDispatcher()
	conn := pipeServer(t, disp)
	r := bufio.NewReader(conn)

	resp := roundTrip(t, r, conn, ipc.NewAddSynchronousService(ipc.AddSynchronousServicePayload{
		Name:             "echo",
		WorkingDirectory: "/tmp",
		Command:          []string{"echo", "hi"},
	}))
	if resp.Status != ipc.StatusOk {
		t.Fatalf("add status = %v, want Ok", resp.Status)
	}

	resp = roundTrip(t, r, conn, ipc.NewAddSynchronousService(ipc.AddSynchronousServicePayload{
		Name: "echo", Command: []string{"echo"},
	}))
	if resp.Status != ipc.StatusServiceAlreadyExists {
		t.Fatalf("duplicate add status = %v, want ServiceAlreadyExists", resp.Status)
	}

	resp = roundTrip(t, r, conn, ipc.NewGetServiceStatus("echo"))
	if resp.Status != ipc.StatusOk || resp.Kind.Tag != ipc.KindServiceStat {
		t.Fatalf("status response = %+v, want Ok/ServiceStatus", resp)
	}
	if !resp.Kind.Status.Running {
		t.Error("expected Running = true")
	}

	resp = roundTrip(t, r, conn, ipc.NewGetServiceStatus("missing"))
	if resp.Status != ipc.StatusServiceDoesNotExist {
		t.Fatalf("missing status response = %v, want ServiceDoesNotExist", resp.Status)
	}

	resp = roundTrip(t, r, conn, ipc.NewRemoveService("echo"))
	if resp.Status != ipc.StatusOk {
		t.Fatalf("remove status = %v, want Ok", resp.Status)
	}

	resp = roundTrip(t, r, conn, ipc.NewRemoveService("echo"))
	if resp.Status != ipc.StatusServiceDoesNotExist {
		t.Fatalf("double remove status = %v, want ServiceDoesNotExist", resp.Status)
	}
}

// TestHandleConnOrderingWithinConnection sends several commands back-to-back
// on the same connection and asserts the dispatcher saw them, and replied to
// them, in the order they were sent (spec.md's per-connection ordering
// guarantee, S6).
func TestHandleConnOrderingWithinConnection(t *testing.T) {
	disp := newFakeDispatcher()
	conn := pipeServer(t, disp)
	r := bufio.NewReader(conn)

	names := []string{"a", "b", "c", "d", "e"}
	for _, n := range names {
		resp := roundTrip(t, r, conn, ipc.NewAddSynchronousService(ipc.AddSynchronousServicePayload{
			Name: n, Command: []string{"true"},
		}))
		if resp.Status != ipc.StatusOk {
			t.Fatalf("add %s: status = %v, want Ok", n, resp.Status)
		}
	}

	resp := roundTrip(t, r, conn, ipc.NewListServices())
	if resp.Status != ipc.StatusOk || resp.Kind.Tag != ipc.KindServiceListT {
		t.Fatalf("list response = %+v", resp)
	}
	if len(resp.Kind.List.Services) != len(names) {
		t.Fatalf("listed %d services, want %d", len(resp.Kind.List.Services), len(names))
	}

	disp.mu.Lock()
	defer disp.mu.Unlock()
	want := []string{"AddSynchronous:a", "AddSynchronous:b", "AddSynchronous:c", "AddSynchronous:d", "AddSynchronous:e", "List"}
	if len(disp.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", disp.calls, want)
	}
	for i, c := range want {
		if disp.calls[i] != c {
			t.Errorf("call %d = %q, want %q", i, disp.calls[i], c)
		}
	}
}

// TestHandleConnMultiCommandFraming writes several frames in a single
// underlying Write and confirms the reader splits them on the sentinel byte
// rather than requiring one frame per read.
func TestHandleConnMultiCommandFraming(t *testing.T) {
	disp := newFakeDispatcher()
	client, server := net.Pipe()
	srv := New(disp, slog.Default())
	go srv.handleConn(server)
	defer client.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := ipc.WriteCommand(client, ipc.NewAddSynchronousService(ipc.AddSynchronousServicePayload{
			Name: "svc1", Command: []string{"true"},
		})); err != nil {
			t.Errorf("write svc1: %v", err)
			return
		}
		if err := ipc.WriteCommand(client, ipc.NewAddSynchronousService(ipc.AddSynchronousServicePayload{
			Name: "svc2", Command: []string{"true"},
		})); err != nil {
			t.Errorf("write svc2: %v", err)
		}
	}()

	r := bufio.NewReader(client)
	resp1, err := ipc.ReadResponse(r)
	if err != nil {
		t.Fatalf("read resp1: %v", err)
	}
	if resp1.Status != ipc.StatusOk {
		t.Fatalf("resp1 status = %v, want Ok", resp1.Status)
	}
	resp2, err := ipc.ReadResponse(r)
	if err != nil {
		t.Fatalf("read resp2: %v", err)
	}
	if resp2.Status != ipc.StatusOk {
		t.Fatalf("resp2 status = %v, want Ok", resp2.Status)
	}
	<-done
}

// TestHandleConnDecodeErrorResynchronizes verifies that a malformed frame
// does not terminate the connection: the server logs and continues, and the
// following well-formed frame is answered normally.
func TestHandleConnDecodeErrorResynchronizes(t *testing.T) {
	disp := newFakeDispatcher()
	client, server := net.Pipe()
	srv := New(disp, slog.Default())
	go srv.handleConn(server)
	defer client.Close()

	writeErr := make(chan error, 1)
	go func() {
		// A malformed frame: not valid JSON, terminated by the sentinel.
		if _, err := client.Write([]byte{'{', 'n', 'o', 'p', 'e', 0xFF}); err != nil {
			writeErr <- err
			return
		}
		writeErr <- ipc.WriteCommand(client, ipc.NewListServices())
	}()

	r := bufio.NewReader(client)
	resp, err := ipc.ReadResponse(r)
	if err != nil {
		t.Fatalf("read response after malformed frame: %v", err)
	}
	if resp.Status != ipc.StatusOk || resp.Kind.Tag != ipc.KindServiceListT {
		t.Fatalf("response after resync = %+v, want Ok/ServiceList", resp)
	}
	if err := <-writeErr; err != nil {
		t.Fatalf("writer goroutine: %v", err)
	}
}

func TestDispatchUnknownTag(t *testing.T) {
	s := New(newFakeDispatcher(), slog.Default())
	resp := s.dispatch(ipc.Command{Tag: "NotARealCommand"})
	if resp.Status != ipc.StatusServiceDoesNotExist {
		t.Errorf("unknown tag status = %v, want ServiceDoesNotExist", resp.Status)
	}
}

func TestStatusResponseMapping(t *testing.T) {
	cases := []struct {
		err  error
		want ipc.ResponseStatus
	}{
		{nil, ipc.StatusOk},
		{registry.ErrAlreadyExists, ipc.StatusServiceAlreadyExists},
		{registry.ErrDoesNotExist, ipc.StatusServiceDoesNotExist},
		{errors.New("boom"), ipc.StatusOk},
	}
	for _, c := range cases {
		resp := statusResponse(c.err)
		if resp.Status != c.want {
			t.Errorf("statusResponse(%v) = %v, want %v", c.err, resp.Status, c.want)
		}
	}
}

func TestServeStopsOnListenerClose(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := New(newFakeDispatcher(), slog.Default())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	_ = ln.Close()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Serve returned %v, want nil after listener close", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after listener close")
	}
}
