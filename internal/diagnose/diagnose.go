// SPDX-License-Identifier: MIT

// Package diagnose implements userserversctl's "diagnose" subcommand: a
// handful of local checks confirming the daemon is reachable and healthy,
// shaped after the teacher's typed CheckResult/CheckStatus pattern but
// scoped to what a per-user process supervisor actually needs to verify
// (socket reachable, configuration file parses, daemon answers within a
// timeout) rather than ALSA/USB/systemd/NTP hardware checks.
package diagnose

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/AmmieNyami/userserversd-go/internal/ipc"
)

// CheckStatus is the outcome of a single diagnostic check.
type CheckStatus string

const (
	StatusPass CheckStatus = "pass"
	StatusFail CheckStatus = "fail"
	StatusWarn CheckStatus = "warn"
)

// CheckResult is the outcome of one diagnostic check.
type CheckResult struct {
	Name     string        `json:"name"`
	Status   CheckStatus   `json:"status"`
	Message  string        `json:"message"`
	Duration time.Duration `json:"duration_ns"`
}

// Report is the full set of diagnostic results, plus an overall verdict.
type Report struct {
	Healthy bool          `json:"healthy"`
	Checks  []CheckResult `json:"checks"`
}

// Options configures where the checks look.
type Options struct {
	SocketPath string
	ConfigPath string
	Timeout    time.Duration
}

// Run executes every check and returns a combined Report. It never returns
// an error itself; failures are captured as a failing CheckResult so the
// caller always gets a complete report.
func Run(opts Options) Report {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	checks := []CheckResult{
		checkSocketReachable(opts.SocketPath, timeout),
		checkConfigFileParses(opts.ConfigPath),
		checkListServices(opts.SocketPath, timeout),
	}

	healthy := true
	for _, c := range checks {
		if c.Status == StatusFail {
			healthy = false
		}
	}

	return Report{Healthy: healthy, Checks: checks}
}

func timed(name string, fn func() (CheckStatus, string)) CheckResult {
	start := time.Now()
	status, msg := fn()
	return CheckResult{Name: name, Status: status, Message: msg, Duration: time.Since(start)}
}

func checkSocketReachable(socketPath string, timeout time.Duration) CheckResult {
	return timed("socket reachable", func() (CheckStatus, string) {
		if socketPath == "" {
			return StatusFail, "no socket path configured"
		}
		conn, err := net.DialTimeout("unix", socketPath, timeout)
		if err != nil {
			return StatusFail, fmt.Sprintf("dial %s: %v", socketPath, err)
		}
		_ = conn.Close()
		return StatusPass, fmt.Sprintf("connected to %s", socketPath)
	})
}

func checkConfigFileParses(configPath string) CheckResult {
	return timed("configuration file parses", func() (CheckStatus, string) {
		if configPath == "" {
			return StatusFail, "no configuration path configured"
		}
		data, err := os.ReadFile(configPath)
		if err != nil {
			if os.IsNotExist(err) {
				return StatusWarn, fmt.Sprintf("%s does not exist yet (empty registry)", configPath)
			}
			return StatusFail, fmt.Sprintf("read %s: %v", configPath, err)
		}
		var defs map[string]ipc.ServiceDefinition
		if err := json.Unmarshal(data, &defs); err != nil {
			return StatusFail, fmt.Sprintf("parse %s: %v", configPath, err)
		}
		return StatusPass, fmt.Sprintf("%d service(s) defined", len(defs))
	})
}

func checkListServices(socketPath string, timeout time.Duration) CheckResult {
	return timed("daemon answers ListServices", func() (CheckStatus, string) {
		if socketPath == "" {
			return StatusFail, "no socket path configured"
		}
		conn, err := net.DialTimeout("unix", socketPath, timeout)
		if err != nil {
			return StatusFail, fmt.Sprintf("dial %s: %v", socketPath, err)
		}
		defer conn.Close()

		_ = conn.SetDeadline(time.Now().Add(timeout))

		if err := ipc.WriteCommand(conn, ipc.NewListServices()); err != nil {
			return StatusFail, fmt.Sprintf("write command: %v", err)
		}
		resp, err := ipc.ReadResponse(bufio.NewReader(conn))
		if err != nil {
			return StatusFail, fmt.Sprintf("read response: %v", err)
		}
		if resp.Status != ipc.StatusOk || resp.Kind.Tag != ipc.KindServiceListT {
			return StatusFail, fmt.Sprintf("unexpected response: status=%s kind=%s", resp.Status, resp.Kind.Tag)
		}
		return StatusPass, fmt.Sprintf("%d service(s) reported", len(resp.Kind.List.Services))
	})
}
