package daemon

import (
	"bufio"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/AmmieNyami/userserversd-go/internal/ipc"
	"github.com/AmmieNyami/userserversd-go/internal/registry"
)

func TestDaemonRunServesAndShutsDownCleanly(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "test.sock")
	lockPath := filepath.Join(dir, "test.lock")
	configPath := filepath.Join(dir, "services.json")

	reg := registry.New(registry.Options{ConfigPath: configPath})
	d := New(reg, nil, socketPath, nil)

	resultCh := make(chan int, 1)
	go func() {
		resultCh <- d.Run(lockPath)
	}()

	var conn net.Conn
	var err error
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("unix", socketPath)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("failed to dial daemon socket: %v", err)
	}
	defer conn.Close()

	if err := ipc.WriteCommand(conn, ipc.NewListServices()); err != nil {
		t.Fatalf("write command: %v", err)
	}
	resp, err := ipc.ReadResponse(bufio.NewReader(conn))
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.Status != ipc.StatusOk {
		t.Fatalf("status = %v, want Ok", resp.Status)
	}

	self, err := os.FindProcess(os.Getpid())
	if err != nil {
		t.Fatalf("find self process: %v", err)
	}
	if err := self.Signal(syscall.SIGTERM); err != nil {
		t.Fatalf("signal self: %v", err)
	}

	select {
	case code := <-resultCh:
		if code != 0 {
			t.Errorf("exit code = %d, want 0", code)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not shut down after SIGTERM")
	}

	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Errorf("socket file still exists after clean shutdown: %v", err)
	}
}

func TestDaemonRunRejectsSecondInstance(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, "test.lock")
	configPath := filepath.Join(dir, "services.json")

	reg1 := registry.New(registry.Options{ConfigPath: configPath})
	d1 := New(reg1, nil, filepath.Join(dir, "first.sock"), nil)

	resultCh := make(chan int, 1)
	go func() {
		resultCh <- d1.Run(lockPath)
	}()

	// Give the first instance time to acquire the lock and bind.
	time.Sleep(100 * time.Millisecond)

	reg2 := registry.New(registry.Options{ConfigPath: configPath})
	d2 := New(reg2, nil, filepath.Join(dir, "second.sock"), nil)

	code := d2.Run(lockPath)
	if code != 1 {
		t.Errorf("second instance exit code = %d, want 1", code)
	}

	self, err := os.FindProcess(os.Getpid())
	if err != nil {
		t.Fatalf("find self process: %v", err)
	}
	_ = self.Signal(syscall.SIGTERM)
	<-resultCh
}
