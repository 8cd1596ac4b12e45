package client

import "time"

// Status mirrors the /status response.
type Status struct {
	Server    string          `json:"server"`
	StartedAt time.Time       `json:"started_at"`
	Lifecycle Lifecycle       `json:"lifecycle"`
	Watchdog  *WatchdogStatus `json:"watchdog,omitempty"`
	Log       LogPosition     `json:"log"`
	Firewall  bool            `json:"firewall_enabled"`
	Ports     []string        `json:"ports"`
}

// Lifecycle is the server phase as inferred from its log.
type Lifecycle struct {
	State        string    `json:"state"`
	StartingSeen bool      `json:"starting_seen"`
	LoadSeen     bool      `json:"load_seen"`
	WarningSent  bool      `json:"warning_sent"`
	NetworkSent  bool      `json:"network_sent"`
	ReadyPending bool      `json:"ready_pending"`
	Epoch        int       `json:"epoch"`
	Since        time.Time `json:"since"`
}

// WatchdogStatus is the process health view.
type WatchdogStatus struct {
	ProcessName    string    `json:"process_name"`
	Health         string    `json:"health"`
	PID            int32     `json:"pid,omitempty"`
	LastResponse   time.Time `json:"last_response,omitempty"`
	ZombieDetected bool      `json:"zombie_detected"`
	LastPoll       time.Time `json:"last_poll,omitempty"`
}

// LogPosition is how far the tailed log has been consumed.
type LogPosition struct {
	Path  string `json:"path"`
	Lines int    `json:"lines"`
	Size  int64  `json:"size"`
}

// Health is the /healthz response.
type Health struct {
	OK    bool   `json:"ok"`
	State string `json:"state"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
