package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	// idempotent: calling again should be no-op
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	RecordStateTransition("idle", "starting")
	SetCurrentState("starting", []string{"idle", "starting"})
	IncNotification("ready", "sent")
	IncPortGate("block", true)
	IncWatchdogPoll("healthy")
	IncZombieDetected()
	IncKill(false)
	IncRotation()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"gatewarden_lifecycle_state_transitions_total": false,
		"gatewarden_lifecycle_current_state":           false,
		"gatewarden_notifications_total":               false,
		"gatewarden_port_gate_actions_total":           false,
		"gatewarden_watchdog_polls_total":              false,
		"gatewarden_watchdog_zombies_detected_total":   false,
		"gatewarden_watchdog_kills_total":              false,
		"gatewarden_log_rotations_total":               false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", n)
			}
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}
}

func TestSetCurrentStateIsExclusive(t *testing.T) {
	regOK.Store(false)
	if err := Register(prometheus.NewRegistry()); err != nil {
		t.Fatal(err)
	}
	all := []string{"idle", "ready", "stopped"}
	SetCurrentState("idle", all)
	SetCurrentState("ready", all)
	if v := testutil.ToFloat64(currentState.WithLabelValues("ready")); v != 1 {
		t.Fatalf("ready=%v", v)
	}
	if v := testutil.ToFloat64(currentState.WithLabelValues("idle")); v != 0 {
		t.Fatalf("idle=%v", v)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	// Reset regOK gate to allow registration in this test regardless of previous tests.
	regOK.Store(false)
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	IncRotation()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != 200 {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	s := string(b)
	if !strings.Contains(s, "gatewarden_log_rotations_total") {
		t.Fatalf("metrics output missing rotations_total: %s", s[:min(200, len(s))])
	}
}

func TestConcurrentIncrements(t *testing.T) {
	reg := prometheus.NewRegistry()
	regOK.Store(false)
	if err := Register(reg); err != nil {
		t.Fatal(err)
	}
	before := testutil.ToFloat64(zombiesDetected)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			IncZombieDetected()
			IncWatchdogPoll("unhealthy")
			IncKill(true)
		}()
	}
	wg.Wait()
	if got := testutil.ToFloat64(zombiesDetected) - before; got != 50 {
		t.Fatalf("zombies delta=%v want 50", got)
	}
}

func TestMetricsBeforeRegister(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	before := testutil.ToFloat64(logRotations)
	// no-ops before Register
	IncRotation()
	RecordStateTransition("a", "b")
	SetCurrentState("a", []string{"a"})
	ObserveServerProcess(ProcessSample{CPUPercent: 50})
	ClearServerProcess()
	if testutil.ToFloat64(logRotations) != before {
		t.Fatalf("counter moved before Register")
	}
}

func TestSampleProcessSelf(t *testing.T) {
	s, err := SampleProcess(int32(os.Getpid()))
	if err != nil {
		t.Fatalf("sample self: %v", err)
	}
	if s.PID != int32(os.Getpid()) || s.MemoryRSS == 0 {
		t.Fatalf("unexpected sample: %+v", s)
	}

	regOK.Store(false)
	if err := Register(prometheus.NewRegistry()); err != nil {
		t.Fatal(err)
	}
	ObserveServerProcess(s)
	if v := testutil.ToFloat64(serverMemoryMB); v != s.MemoryMB {
		t.Fatalf("memory gauge=%v want %v", v, s.MemoryMB)
	}
	ClearServerProcess()
	if v := testutil.ToFloat64(serverMemoryMB); v != 0 {
		t.Fatalf("memory gauge not cleared: %v", v)
	}
}

func TestRegisterError(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	err := Register(&errorRegisterer{})
	if err == nil {
		t.Fatal("Register should return error from failing registerer")
	}
	if err.Error() != "test registration error" {
		t.Fatalf("unexpected error: %v", err)
	}
}

type errorRegisterer struct{}

func (e *errorRegisterer) Register(prometheus.Collector) error {
	return errors.New("test registration error")
}

func (e *errorRegisterer) MustRegister(...prometheus.Collector) {}
func (e *errorRegisterer) Unregister(prometheus.Collector) bool { return false }
