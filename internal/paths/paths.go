// SPDX-License-Identifier: MIT

// Package paths resolves the two filesystem locations the daemon and its
// control client must agree on without any coordination: the Unix socket
// and the per-service configuration file. Both daemon and client call the
// same functions so they can never disagree. It also resolves the daemon's
// own settings file (DaemonConfigPath).
package paths

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
)

// socketCandidateDirs are tried in order; the first one that exists wins.
var socketCandidateDirs = []string{"/run", "/var/run", "/tmp"}

// SocketPath resolves the Unix-domain socket path: the first existing
// directory from /run, /var/run, /tmp, with a per-uid subdirectory
// preferred when it can be created.
func SocketPath() (string, error) {
	base, err := firstExistingDir(socketCandidateDirs)
	if err != nil {
		return "", err
	}

	uid := os.Getuid()
	userDir := filepath.Join(base, "user", strconv.Itoa(uid))
	if err := os.MkdirAll(userDir, 0o700); err == nil {
		return filepath.Join(userDir, "userserversd.sock"), nil
	}

	return filepath.Join(base, "userserversd.sock"), nil
}

func firstExistingDir(candidates []string) (string, error) {
	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir, nil
		}
	}
	return "", fmt.Errorf("paths: none of %v exist", candidates)
}

// ConfigFilePath resolves the per-service registry's configuration file
// path. If XDG_CONFIG_HOME is set, it wins outright. Otherwise, between the
// legacy dotfile and the XDG-style path under .config, the legacy dotfile
// wins if it already exists, or if .config itself doesn't exist yet.
func ConfigFilePath() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "userserversd_services.json"), nil
	}

	home, err := homeDir()
	if err != nil {
		return "", err
	}

	legacy := filepath.Join(home, ".userserversd_services.json")
	configDir := filepath.Join(home, ".config")

	if _, err := os.Stat(legacy); err == nil {
		return legacy, nil
	}
	if _, err := os.Stat(configDir); os.IsNotExist(err) {
		return legacy, nil
	}

	return filepath.Join(configDir, "userserversd_services.json"), nil
}

// DaemonConfigPath resolves the ambient daemon-settings file location:
// $XDG_CONFIG_HOME/userserversd/daemon.yaml, falling back to
// $HOME/.config/userserversd/daemon.yaml. Unlike ConfigFilePath, a missing
// file here is always normal (defaults apply), so there is no legacy-dotfile
// special case.
func DaemonConfigPath() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "userserversd", "daemon.yaml"), nil
	}
	home, err := homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "userserversd", "daemon.yaml"), nil
}

// homeDir resolves $HOME, falling back to the password-database entry for
// the effective uid when the environment variable is unset.
func homeDir() (string, error) {
	if home := os.Getenv("HOME"); home != "" {
		return home, nil
	}
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("paths: resolve home directory: %w", err)
	}
	if u.HomeDir == "" {
		return "", fmt.Errorf("paths: password database entry has no home directory")
	}
	return u.HomeDir, nil
}
