package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gatewarden.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestHelpListsCommands(t *testing.T) {
	out, err := execute(t, "--help")
	if err != nil {
		t.Fatalf("help should succeed: %v", err)
	}
	for _, want := range []string{"gatewarden", "run", "status", "kill-zombie", "check-config"} {
		if !strings.Contains(out, want) {
			t.Fatalf("help output missing %q:\n%s", want, out)
		}
	}
}

func TestCheckConfig(t *testing.T) {
	logs := t.TempDir()
	path := writeConfig(t, "[server]\nlogs_directory = \""+filepath.ToSlash(logs)+"\"\n")

	out, err := execute(t, "check-config", "--config", path)
	if err != nil {
		t.Fatalf("check-config: %v", err)
	}
	if !strings.Contains(out, "configuration OK") || !strings.Contains(out, "ConanSandbox.log") {
		t.Fatalf("unexpected output %q", out)
	}

	out, err = execute(t, "check-config", "--config", path, "--print")
	if err != nil {
		t.Fatalf("check-config --print: %v", err)
	}
	if !strings.Contains(out, `"LogsDirectory"`) {
		t.Fatalf("expected JSON config, got %q", out)
	}
}

func TestCheckConfigLogsDirOverride(t *testing.T) {
	path := writeConfig(t, "[server]\nname = \"test\"\n")
	if _, err := execute(t, "check-config", "--config", path); err == nil {
		t.Fatalf("expected error without logs directory")
	}
	if _, err := execute(t, "check-config", "--config", path, "--logs-dir", t.TempDir()); err != nil {
		t.Fatalf("override should satisfy validation: %v", err)
	}
}

func TestCheckConfigMissingFile(t *testing.T) {
	_, err := execute(t, "check-config", "--config", filepath.Join(t.TempDir(), "nope.toml"))
	if err == nil || !strings.Contains(err.Error(), "error loading config") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestStatusCommand(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/status" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"server":"Conan","lifecycle":{"state":"ready","epoch":1},` +
			`"watchdog":{"health":"zombie","pid":12,"zombie_detected":true},` +
			`"log":{"path":"/l/ConanSandbox.log","lines":5},"firewall_enabled":true,"ports":["7777/UDP"]}`))
	}))
	defer ts.Close()

	out, err := execute(t, "status", "--api-url", ts.URL+"/api")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"Conan", "ready", "pid 12", "ZOMBIE", "7777/UDP", "firewall enabled"} {
		if !strings.Contains(out, want) {
			t.Fatalf("status output missing %q:\n%s", want, out)
		}
	}

	out, err = execute(t, "status", "--api-url", ts.URL+"/api", "--json")
	if err != nil || !strings.Contains(out, `"state": "ready"`) {
		t.Fatalf("json status: %v %s", err, out)
	}
}

func TestKillZombieCommand(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"no zombie process detected"}`))
	}))
	defer ts.Close()

	_, err := execute(t, "kill-zombie", "--api-url", ts.URL)
	if err == nil || !strings.Contains(err.Error(), "no zombie process detected") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestRunMonitorStopsOnCancel(t *testing.T) {
	logs := t.TempDir()
	pid := filepath.Join(t.TempDir(), "gw.pid")
	path := writeConfig(t, "[server]\nlogs_directory = \""+filepath.ToSlash(logs)+"\"\n"+
		"[server.zombie_detection]\nenabled = false\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := runMonitor(ctx, RunFlags{ConfigPath: path, PidFile: pid}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := os.Stat(pid); !os.IsNotExist(err) {
		t.Fatalf("pid file should be removed on exit")
	}
}

func TestRunMonitorMissingDirectory(t *testing.T) {
	path := writeConfig(t, "[server]\nlogs_directory = \""+filepath.ToSlash(filepath.Join(t.TempDir(), "gone"))+"\"\n")
	if err := runMonitor(context.Background(), RunFlags{ConfigPath: path}); err == nil {
		t.Fatalf("expected error for missing logs directory")
	}
}

func TestRunMonitorGeneratesAPICertificate(t *testing.T) {
	logs := t.TempDir()
	tlsDir := filepath.Join(t.TempDir(), "tls")
	path := writeConfig(t, "[server]\nlogs_directory = \""+filepath.ToSlash(logs)+"\"\n"+
		"[server.zombie_detection]\nenabled = false\n"+
		"[api]\nenabled = true\nlisten = \"127.0.0.1:0\"\ntoken = \"s3cret\"\n"+
		"[api.tls]\nenabled = true\nauto_generate = true\ndir = \""+filepath.ToSlash(tlsDir)+"\"\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := runMonitor(ctx, RunFlags{ConfigPath: path}); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, f := range []string{"tls.crt", "tls.key", "tls_ca.crt"} {
		if _, err := os.Stat(filepath.Join(tlsDir, f)); err != nil {
			t.Fatalf("expected %s: %v", f, err)
		}
	}
}

func TestRunMonitorRejectsBrokenTLS(t *testing.T) {
	logs := t.TempDir()
	path := writeConfig(t, "[server]\nlogs_directory = \""+filepath.ToSlash(logs)+"\"\n"+
		"[server.zombie_detection]\nenabled = false\n"+
		"[api]\nenabled = true\nlisten = \"127.0.0.1:0\"\n"+
		"[api.tls]\nenabled = true\ndir = \""+filepath.ToSlash(t.TempDir())+"\"\n")

	err := runMonitor(context.Background(), RunFlags{ConfigPath: path})
	if err == nil || !strings.Contains(err.Error(), "api tls") {
		t.Fatalf("unexpected error %v", err)
	}
}
