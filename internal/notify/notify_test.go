package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []string
	ok   bool
}

func (r *recordingSender) Send(_ context.Context, text string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, text)
	return r.ok
}

func TestNotify_SendsConfiguredText(t *testing.T) {
	s := &recordingSender{ok: true}
	n := New(s, DefaultMessages, nil, nil)
	if !n.Notify(context.Background(), KeyReady) {
		t.Fatalf("expected delivery")
	}
	if len(s.sent) != 1 || s.sent[0] != DefaultMessages[KeyReady] {
		t.Fatalf("unexpected sent: %v", s.sent)
	}
}

func TestNotify_MissingKeySkipped(t *testing.T) {
	s := &recordingSender{ok: true}
	n := New(s, map[string]string{KeyStartup: "hi"}, nil, nil)
	if n.Notify(context.Background(), KeyReady) {
		t.Fatalf("missing key should not be delivered")
	}
	if len(s.sent) != 0 {
		t.Fatalf("sender called for missing key: %v", s.sent)
	}
}

func TestNotify_ControlSwitch(t *testing.T) {
	s := &recordingSender{ok: true}
	controls := map[string]bool{ControlKey(KeyLoading): false, ControlKey(KeyReady): true}
	n := New(s, DefaultMessages, controls, nil)
	n.Notify(context.Background(), KeyLoading)
	n.Notify(context.Background(), KeyReady)
	n.Notify(context.Background(), KeyShutdownFinal) // absent switch means enabled
	if len(s.sent) != 2 || s.sent[0] != DefaultMessages[KeyReady] || s.sent[1] != DefaultMessages[KeyShutdownFinal] {
		t.Fatalf("unexpected sent: %v", s.sent)
	}
}

func TestNotify_SenderFailureReported(t *testing.T) {
	n := New(&recordingSender{ok: false}, DefaultMessages, nil, nil)
	if n.Notify(context.Background(), KeyStartup) {
		t.Fatalf("expected false when sender fails")
	}
}

func TestNotify_NilSenderIsDisabled(t *testing.T) {
	n := New(nil, DefaultMessages, nil, nil)
	if n.Notify(context.Background(), KeyStartup) {
		t.Fatalf("disabled sender should report false")
	}
}

func TestDefaultMessagesCoverAllKeys(t *testing.T) {
	for _, k := range []string{KeyStartup, KeyLoading, KeyReady, KeyShutdownWarning, KeyNetworkShutdown,
		KeyShutdownFinal, KeyMonitorStop, KeyZombieDetected, KeyZombieKilled} {
		if DefaultMessages[k] == "" {
			t.Fatalf("no default text for %s", k)
		}
	}
}

func TestDiscord_PostsJSON(t *testing.T) {
	var got discordPayload
	var ctype string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctype = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscord(DiscordOptions{WebhookURL: srv.URL, Username: "gatewarden"})
	if !d.Send(context.Background(), "hello") {
		t.Fatalf("expected success")
	}
	if got.Content != "hello" || got.Username != "gatewarden" || ctype != "application/json" {
		t.Fatalf("unexpected request: %+v ctype=%s", got, ctype)
	}
}

func TestDiscord_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()
	d := NewDiscord(DiscordOptions{WebhookURL: srv.URL})
	if d.Send(context.Background(), "x") {
		t.Fatalf("expected failure on 429")
	}
}

func TestDiscord_Timeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)
	d := NewDiscord(DiscordOptions{WebhookURL: srv.URL, Timeout: 50 * time.Millisecond})
	start := time.Now()
	if d.Send(context.Background(), "x") {
		t.Fatalf("expected timeout failure")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("timeout not honored")
	}
}
