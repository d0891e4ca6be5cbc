package paths

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfigFilePathPrefersXDGConfigHome(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	got, err := ConfigFilePath()
	if err != nil {
		t.Fatalf("ConfigFilePath: %v", err)
	}
	want := filepath.Join(dir, "userserversd_services.json")
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestConfigFilePathPrefersExistingLegacyDotfile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")
	home := t.TempDir()
	t.Setenv("HOME", home)

	legacy := filepath.Join(home, ".userserversd_services.json")
	if err := os.WriteFile(legacy, []byte("{}"), 0o600); err != nil {
		t.Fatalf("write legacy file: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(home, ".config"), 0o755); err != nil {
		t.Fatalf("mkdir .config: %v", err)
	}

	got, err := ConfigFilePath()
	if err != nil {
		t.Fatalf("ConfigFilePath: %v", err)
	}
	if got != legacy {
		t.Fatalf("expected the existing legacy dotfile to win, got %q", got)
	}
}

func TestConfigFilePathFallsBackToXDGStylePath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")
	home := t.TempDir()
	t.Setenv("HOME", home)
	if err := os.MkdirAll(filepath.Join(home, ".config"), 0o755); err != nil {
		t.Fatalf("mkdir .config: %v", err)
	}

	got, err := ConfigFilePath()
	if err != nil {
		t.Fatalf("ConfigFilePath: %v", err)
	}
	want := filepath.Join(home, ".config", "userserversd_services.json")
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestConfigFilePathLegacyWhenNoDotConfig(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")
	home := t.TempDir()
	t.Setenv("HOME", home)
	// No .config directory created.

	got, err := ConfigFilePath()
	if err != nil {
		t.Fatalf("ConfigFilePath: %v", err)
	}
	want := filepath.Join(home, ".userserversd_services.json")
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSocketPathResolvesUnderAnExistingBaseDir(t *testing.T) {
	got, err := SocketPath()
	if err != nil {
		t.Fatalf("SocketPath: %v", err)
	}
	if filepath.Base(got) != "userserversd.sock" {
		t.Fatalf("expected socket filename userserversd.sock, got %q", got)
	}
}

func TestDaemonConfigPathUnderXDGNamespace(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	got, err := DaemonConfigPath()
	if err != nil {
		t.Fatalf("DaemonConfigPath: %v", err)
	}
	want := filepath.Join(dir, "userserversd", "daemon.yaml")
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
