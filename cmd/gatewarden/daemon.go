package main

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// daemonize starts a detached copy of the current command line, minus the
// daemon flags, records its PID and exits the parent.
func daemonize(pidFile string, logFile string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	// #nosec G204
	child := exec.Command(exe, childArgs(os.Args[1:])...)
	child.SysProcAttr = detachAttrs()
	if logFile != "" {
		// #nosec G304
		out, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open daemon log: %w", err)
		}
		defer func() { _ = out.Close() }()
		child.Stdout, child.Stderr = out, out
	}
	if err := child.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	pid := child.Process.Pid
	if pidFile != "" {
		if err := writePidFile(pidFile, pid); err != nil {
			return fmt.Errorf("write pid file: %w", err)
		}
	}
	fmt.Printf("gatewarden running in background (pid %d)\n", pid)
	os.Exit(0)
	return nil
}

// childArgs drops the daemon flags so the child runs in the foreground.
func childArgs(args []string) []string {
	out := make([]string, 0, len(args))
	skipNext := false
	for _, arg := range args {
		if skipNext {
			skipNext = false
			continue
		}
		switch {
		case arg == "--daemonize" || strings.HasPrefix(arg, "--daemonize="):
			continue
		case arg == "--logfile":
			skipNext = true
			continue
		case strings.HasPrefix(arg, "--logfile="):
			continue
		}
		out = append(out, arg)
	}
	return out
}

func writePidFile(path string, pid int) error {
	// #nosec G306
	return os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644)
}

// removePidFile tolerates an empty path and a file that is already gone.
func removePidFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
