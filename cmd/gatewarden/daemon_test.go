package main

import (
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"testing"
)

func TestPidFile(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "gatewarden.pid")

	if err := writePidFile(pidFile, os.Getpid()); err != nil {
		t.Fatalf("writePidFile failed: %v", err)
	}
	b, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	if string(b) != strconv.Itoa(os.Getpid()) {
		t.Fatalf("pid file contains %q", b)
	}

	if err := removePidFile(pidFile); err != nil {
		t.Fatalf("removePidFile failed: %v", err)
	}
	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Fatal("PID file was not removed")
	}
	if err := removePidFile(""); err != nil {
		t.Fatalf("empty path should be a no-op: %v", err)
	}
}

func TestChildArgs(t *testing.T) {
	in := []string{"run", "--config", "gw.toml", "--daemonize", "--logfile", "/tmp/gw.out", "--pidfile", "/run/gw.pid", "--logfile=/x"}
	want := []string{"run", "--config", "gw.toml", "--pidfile", "/run/gw.pid"}
	if got := childArgs(in); !reflect.DeepEqual(got, want) {
		t.Fatalf("childArgs=%v want %v", got, want)
	}
}
