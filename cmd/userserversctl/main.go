// SPDX-License-Identifier: MIT

// Package main implements userserversctl, the control client for
// userserversd.
//
// userserversctl dials the daemon's Unix-domain socket, sends one framed
// IPC command per invocation, and prints the response. It is a minimal,
// working implementation of the control surface rather than a hardened UX:
// flags are parsed by hand in the teacher's style and output is plain text
// or JSON, never a full TUI (the dashboard lives in "userserversctl menu").
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/AmmieNyami/userserversd-go/internal/diagnose"
	"github.com/AmmieNyami/userserversd-go/internal/ipc"
	"github.com/AmmieNyami/userserversd-go/internal/menu"
	"github.com/AmmieNyami/userserversd-go/internal/paths"
)

// Version information (set via ldflags during build).
var (
	Version   = "dev"
	GitCommit = "none"
)

const (
	exitSuccess = 0
	exitError   = 1
)

// socketOverride, when non-empty, is used instead of paths.SocketPath(). Set
// by a --socket=PATH global flag; tests use it to point at a
// temporary listener instead of the real per-uid socket location.
var socketOverride string

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitError)
	}
	os.Exit(exitSuccess)
}

// run is the main entry point, extracted for testability.
func run(args []string) error {
	args = extractSocketOverride(args)

	if len(args) == 0 {
		return runHelp()
	}

	command := args[0]
	commandArgs := args[1:]

	switch command {
	case "help", "--help", "-h":
		return runHelp()
	case "version", "--version", "-v":
		return runVersion()
	case "add":
		return runAdd(commandArgs)
	case "add-async":
		return runAddAsync(commandArgs)
	case "remove", "rm":
		return runRemove(commandArgs)
	case "start":
		return runStart(commandArgs)
	case "stop":
		return runStop(commandArgs)
	case "restart":
		return runRestart(commandArgs)
	case "status":
		return runStatus(commandArgs)
	case "list", "ls":
		return runList(commandArgs)
	case "diagnose":
		return runDiagnose(commandArgs)
	case "menu":
		return runMenu(commandArgs)
	default:
		return fmt.Errorf("unknown command: %s (run 'userserversctl help' for usage)", command)
	}
}

// extractSocketOverride scans for a --socket=PATH token anywhere in args,
// records it in socketOverride, and returns args with that token removed.
func extractSocketOverride(args []string) []string {
	var rest []string
	for _, a := range args {
		if strings.HasPrefix(a, "--socket=") {
			socketOverride = strings.TrimPrefix(a, "--socket=")
			continue
		}
		rest = append(rest, a)
	}
	return rest
}

// resolveSocketPath returns socketOverride when set, otherwise the default
// per-uid socket location.
func resolveSocketPath() (string, error) {
	if socketOverride != "" {
		return socketOverride, nil
	}
	return paths.SocketPath()
}

func runHelp() error {
	fmt.Printf(`userserversctl v%s

USAGE:
    userserversctl [COMMAND] [OPTIONS]

COMMANDS:
    help                         Show this help message
    version                      Show version information
    add NAME -- CMD [ARGS...]    Register a single long-lived command as NAME
    add --interactive            Register a service via an interactive wizard
    add-async NAME                Register a start/stop-command pair as NAME
    remove NAME                  Stop (if running) and unregister a service
    start NAME                   Start a registered service
    stop NAME                    Stop a running service
    restart NAME                 Stop then start a service
    status NAME                  Show one service's running state and logs
    list                         List every registered service
    diagnose                     Check that the daemon is reachable and healthy
    menu                         Launch the interactive management dashboard

OPTIONS (add / add-async):
    --workdir=PATH       Working directory for the service (default: ".")
    --group=NAME         Free-form group label shown in listings
    --env=KEY=VALUE      Environment variable to pass to the child (repeatable)
    --start="CMD ARGS"   add-async: the start command, whitespace-split
    --stop="CMD ARGS"    add-async: the stop command, whitespace-split

OPTIONS (status / list / diagnose):
    --json               Emit machine-readable JSON instead of text

GLOBAL OPTIONS:
    --socket=PATH        Connect to a non-default daemon socket

EXAMPLES:
    userserversctl add web --workdir=/srv/app -- python3 server.py --port 8080
    userserversctl add-async cache --start="redis-server /etc/redis.conf" --stop="redis-cli shutdown"
    userserversctl status web
    userserversctl list --json
`, Version)
	return nil
}

func runVersion() error {
	fmt.Printf("userserversctl\n")
	fmt.Printf("  Version: %s\n", Version)
	fmt.Printf("  Commit:  %s\n", GitCommit)
	return nil
}

// splitOnDoubleDash splits args into the flag/positional portion before a
// bare "--" and the literal command tokens after it.
func splitOnDoubleDash(args []string) (before, after []string) {
	for i, a := range args {
		if a == "--" {
			return args[:i], args[i+1:]
		}
	}
	return args, nil
}

// serviceFlags is the flag set shared by add and add-async.
type serviceFlags struct {
	workdir string
	group   *string
	env     map[string]string
}

func parseServiceFlags(args []string) (serviceFlags, []string) {
	f := serviceFlags{workdir: ".", env: map[string]string{}}
	var rest []string
	for _, a := range args {
		switch {
		case strings.HasPrefix(a, "--workdir="):
			f.workdir = strings.TrimPrefix(a, "--workdir=")
		case strings.HasPrefix(a, "--group="):
			g := strings.TrimPrefix(a, "--group=")
			f.group = &g
		case strings.HasPrefix(a, "--env="):
			kv := strings.TrimPrefix(a, "--env=")
			if k, v, ok := strings.Cut(kv, "="); ok {
				f.env[k] = v
			}
		default:
			rest = append(rest, a)
		}
	}
	return f, rest
}

func runAdd(args []string) error {
	before, cmdTokens := splitOnDoubleDash(args)

	interactive := false
	var positional []string
	for _, a := range before {
		if a == "--interactive" || a == "-i" {
			interactive = true
			continue
		}
		positional = append(positional, a)
	}

	if interactive {
		return runAddInteractive()
	}

	if len(positional) == 0 {
		return fmt.Errorf("add: missing service name (usage: userserversctl add NAME -- CMD [ARGS...])")
	}
	name := positional[0]
	flags, _ := parseServiceFlags(positional[1:])
	if len(cmdTokens) == 0 {
		return fmt.Errorf("add: missing command (usage: userserversctl add NAME -- CMD [ARGS...])")
	}

	resp, err := sendCommand(ipc.NewAddSynchronousService(ipc.AddSynchronousServicePayload{
		Name:             name,
		WorkingDirectory: flags.workdir,
		Environment:      flags.env,
		Group:            flags.group,
		Command:          cmdTokens,
	}))
	if err != nil {
		return err
	}
	return printResultStatus("add", name, resp)
}

func runAddAsync(args []string) error {
	flagsArgs, positional := splitAsyncArgs(args)
	if len(positional) == 0 {
		return fmt.Errorf("add-async: missing service name (usage: userserversctl add-async NAME --start=\"CMD\" --stop=\"CMD\")")
	}
	name := positional[0]
	flags, _ := parseServiceFlags(positional[1:])

	start := flagsArgs["start"]
	stop := flagsArgs["stop"]
	if start == "" || stop == "" {
		return fmt.Errorf("add-async: both --start and --stop are required")
	}

	resp, err := sendCommand(ipc.NewAddAsynchronousService(ipc.AddAsynchronousServicePayload{
		Name:             name,
		WorkingDirectory: flags.workdir,
		Environment:      flags.env,
		Group:            flags.group,
		StartCommand:     strings.Fields(start),
		StopCommand:      strings.Fields(stop),
	}))
	if err != nil {
		return err
	}
	return printResultStatus("add-async", name, resp)
}

// splitAsyncArgs pulls out --start=/--stop= (which may contain spaces) and
// returns everything else for parseServiceFlags to handle.
func splitAsyncArgs(args []string) (map[string]string, []string) {
	out := map[string]string{}
	var rest []string
	for _, a := range args {
		switch {
		case strings.HasPrefix(a, "--start="):
			out["start"] = strings.TrimPrefix(a, "--start=")
		case strings.HasPrefix(a, "--stop="):
			out["stop"] = strings.TrimPrefix(a, "--stop=")
		default:
			rest = append(rest, a)
		}
	}
	return out, rest
}

func runAddInteractive() error {
	name := menu.Input(os.Stdin, os.Stdout, "Service name")
	if name == "" {
		return fmt.Errorf("add: service name is required")
	}
	workdir := menu.Input(os.Stdin, os.Stdout, "Working directory (blank for \".\")")
	if workdir == "" {
		workdir = "."
	}
	group := menu.Input(os.Stdin, os.Stdout, "Group label (optional)")
	var groupPtr *string
	if group != "" {
		groupPtr = &group
	}

	isAsync := menu.Confirm(os.Stdin, os.Stdout, "Is this an asynchronous (separate start/stop) service?")

	if !isAsync {
		commandLine := menu.Input(os.Stdin, os.Stdout, "Command to run (e.g. \"python3 server.py --port 8080\")")
		if commandLine == "" {
			return fmt.Errorf("add: command is required")
		}
		resp, err := sendCommand(ipc.NewAddSynchronousService(ipc.AddSynchronousServicePayload{
			Name:             name,
			WorkingDirectory: workdir,
			Environment:      map[string]string{},
			Group:            groupPtr,
			Command:          strings.Fields(commandLine),
		}))
		if err != nil {
			return err
		}
		return printResultStatus("add", name, resp)
	}

	startLine := menu.Input(os.Stdin, os.Stdout, "Start command")
	stopLine := menu.Input(os.Stdin, os.Stdout, "Stop command")
	if startLine == "" || stopLine == "" {
		return fmt.Errorf("add-async: both a start and a stop command are required")
	}
	resp, err := sendCommand(ipc.NewAddAsynchronousService(ipc.AddAsynchronousServicePayload{
		Name:             name,
		WorkingDirectory: workdir,
		Environment:      map[string]string{},
		Group:            groupPtr,
		StartCommand:     strings.Fields(startLine),
		StopCommand:      strings.Fields(stopLine),
	}))
	if err != nil {
		return err
	}
	return printResultStatus("add-async", name, resp)
}

func runRemove(args []string) error {
	name, _, err := requireName("remove", args)
	if err != nil {
		return err
	}
	resp, err := sendCommand(ipc.NewRemoveService(name))
	if err != nil {
		return err
	}
	return printResultStatus("remove", name, resp)
}

func runStart(args []string) error {
	name, _, err := requireName("start", args)
	if err != nil {
		return err
	}
	resp, err := sendCommand(ipc.NewStartService(name))
	if err != nil {
		return err
	}
	return printResultStatus("start", name, resp)
}

func runStop(args []string) error {
	name, _, err := requireName("stop", args)
	if err != nil {
		return err
	}
	resp, err := sendCommand(ipc.NewStopService(name))
	if err != nil {
		return err
	}
	return printResultStatus("stop", name, resp)
}

func runRestart(args []string) error {
	name, _, err := requireName("restart", args)
	if err != nil {
		return err
	}
	resp, err := sendCommand(ipc.NewRestartService(name))
	if err != nil {
		return err
	}
	return printResultStatus("restart", name, resp)
}

func runStatus(args []string) error {
	name, jsonOut, err := requireName("status", args)
	if err != nil {
		return err
	}
	resp, err := sendCommand(ipc.NewGetServiceStatus(name))
	if err != nil {
		return err
	}
	if resp.Status != ipc.StatusOk {
		return fmt.Errorf("status: %s", resp.Status)
	}
	if resp.Kind.Tag != ipc.KindServiceStat || resp.Kind.Status == nil {
		return fmt.Errorf("status: daemon returned an unexpected response")
	}
	if jsonOut {
		return printJSON(resp.Kind.Status)
	}

	st := resp.Kind.Status
	fmt.Printf("%s\n", name)
	fmt.Printf("  running: %v\n", st.Running)
	if st.Service.Group != nil {
		fmt.Printf("  group:   %s\n", *st.Service.Group)
	}
	fmt.Printf("  workdir: %s\n", st.Service.WorkingDirectory)
	fmt.Printf("  kind:    %s\n", st.Service.Kind.Tag)
	if st.Logs != "" {
		fmt.Println("  logs:")
		for _, line := range strings.Split(strings.TrimRight(st.Logs, "\n"), "\n") {
			fmt.Printf("    %s\n", line)
		}
	}
	return nil
}

func runList(args []string) error {
	jsonOut := hasFlag(args, "--json")
	resp, err := sendCommand(ipc.NewListServices())
	if err != nil {
		return err
	}
	if resp.Status != ipc.StatusOk || resp.Kind.Tag != ipc.KindServiceListT || resp.Kind.List == nil {
		return fmt.Errorf("list: daemon returned an unexpected response")
	}
	if jsonOut {
		return printJSON(resp.Kind.List)
	}

	if len(resp.Kind.List.Services) == 0 {
		fmt.Println("(no registered services)")
		return nil
	}
	for name, def := range resp.Kind.List.Services {
		group := ""
		if def.Group != nil {
			group = " [" + *def.Group + "]"
		}
		fmt.Printf("%s%s — %s\n", name, group, def.Kind.Tag)
	}
	return nil
}

func runDiagnose(args []string) error {
	jsonOut := hasFlag(args, "--json")

	socketPath, _ := resolveSocketPath()
	configPath, _ := paths.ConfigFilePath()

	report := diagnose.Run(diagnose.Options{
		SocketPath: socketPath,
		ConfigPath: configPath,
		Timeout:    3 * time.Second,
	})

	if jsonOut {
		if err := printJSON(report); err != nil {
			return err
		}
	} else {
		for _, c := range report.Checks {
			fmt.Printf("[%s] %s: %s\n", strings.ToUpper(string(c.Status)), c.Name, c.Message)
		}
		if report.Healthy {
			fmt.Println("\noverall: healthy")
		} else {
			fmt.Println("\noverall: unhealthy")
		}
	}

	if !report.Healthy {
		return fmt.Errorf("diagnose: one or more checks failed")
	}
	return nil
}

func runMenu(args []string) error {
	m := menu.CreateMainMenu()
	return m.Display()
}

// requireName extracts the positional service name and an optional --json
// flag, shared by the five single-name subcommands.
func requireName(cmdName string, args []string) (name string, jsonOut bool, err error) {
	var positional []string
	for _, a := range args {
		if a == "--json" {
			jsonOut = true
			continue
		}
		positional = append(positional, a)
	}
	if len(positional) == 0 {
		return "", false, fmt.Errorf("%s: missing service name", cmdName)
	}
	return positional[0], jsonOut, nil
}

func hasFlag(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printResultStatus renders a mutation response's wire status as either
// success or a descriptive error.
func printResultStatus(verb, name string, resp ipc.Response) error {
	switch resp.Status {
	case ipc.StatusOk:
		fmt.Printf("%s: %s: ok\n", verb, name)
		return nil
	case ipc.StatusServiceAlreadyExists:
		return fmt.Errorf("%s: %s: a service with this name already exists", verb, name)
	case ipc.StatusServiceDoesNotExist:
		return fmt.Errorf("%s: %s: no such service", verb, name)
	default:
		return fmt.Errorf("%s: %s: unexpected response status %q", verb, name, resp.Status)
	}
}

// sendCommand dials the daemon's socket, writes one framed command, and
// reads back one framed response.
func sendCommand(cmd ipc.Command) (ipc.Response, error) {
	socketPath, err := resolveSocketPath()
	if err != nil {
		return ipc.Response{}, fmt.Errorf("resolve socket path: %w", err)
	}

	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return ipc.Response{}, fmt.Errorf("connect to userserversd at %s: %w (is the daemon running?)", socketPath, err)
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))

	if err := ipc.WriteCommand(conn, cmd); err != nil {
		return ipc.Response{}, fmt.Errorf("write command: %w", err)
	}
	resp, err := ipc.ReadResponse(bufio.NewReader(conn))
	if err != nil {
		return ipc.Response{}, fmt.Errorf("read response: %w", err)
	}
	return resp, nil
}
