// Package notify turns lifecycle message keys into text and delivers it.
package notify

import (
	"context"
	"log/slog"

	"github.com/loykin/gatewarden/internal/metrics"
)

// Message keys.
const (
	KeyStartup         = "startup"
	KeyLoading         = "loading"
	KeyReady           = "ready"
	KeyShutdownWarning = "shutdown_warning"
	KeyNetworkShutdown = "network_shutdown"
	KeyShutdownFinal   = "shutdown_final"
	KeyMonitorStop     = "monitor_stop"
	KeyZombieDetected  = "zombie_detected"
	KeyZombieKilled    = "zombie_killed"
)

// DefaultMessages is the built-in text for every key.
var DefaultMessages = map[string]string{
	KeyStartup:         "[START] Server monitor starting up...",
	KeyLoading:         "[UPDATE] Server is starting up...",
	KeyReady:           "[SUCCESS] Server is fully loaded and ready for connections!",
	KeyShutdownWarning: "[WARNING] Server is preparing to shut down...",
	KeyNetworkShutdown: "[WARNING] Server network is shutting down...",
	KeyShutdownFinal:   "[WARNING] Server has stopped...",
	KeyMonitorStop:     "[STOP] Server monitor shutting down...",
	KeyZombieDetected:  "[WARNING] Server process is not responding (zombie state detected)!",
	KeyZombieKilled:    "[UPDATE] Zombie process was forcefully terminated.",
}

// ControlKey is the message_control switch name for key.
func ControlKey(key string) string { return key + "_notification" }

// Sender delivers a rendered message. Delivery is best-effort; the result
// reports whether the remote side accepted it.
type Sender interface {
	Send(ctx context.Context, text string) bool
}

// Notifier resolves keys against the configured messages and switches.
type Notifier struct {
	sender   Sender
	messages map[string]string
	controls map[string]bool
	logger   *slog.Logger
}

// New creates a Notifier. Keys absent from controls are enabled.
func New(sender Sender, messages map[string]string, controls map[string]bool, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if sender == nil {
		sender = Disabled{}
	}
	return &Notifier{
		sender:   sender,
		messages: messages,
		controls: controls,
		logger:   logger.With("component", "notify"),
	}
}

// Notify sends the message configured for key. A key without text is a
// configuration gap: it is logged and nothing is sent.
func (n *Notifier) Notify(ctx context.Context, key string) bool {
	text, ok := n.messages[key]
	if !ok || text == "" {
		n.logger.Error("message not configured", "key", key)
		metrics.IncNotification(key, "missing")
		return false
	}
	n.logger.Info(text, "key", key)
	if enabled, ok := n.controls[ControlKey(key)]; ok && !enabled {
		n.logger.Info("notification type disabled, not sent", "key", key)
		metrics.IncNotification(key, "suppressed")
		return false
	}
	if n.sender.Send(ctx, text) {
		metrics.IncNotification(key, "sent")
		return true
	}
	metrics.IncNotification(key, "failed")
	return false
}

// Text returns the configured text for key.
func (n *Notifier) Text(key string) (string, bool) {
	t, ok := n.messages[key]
	return t, ok
}

// Disabled drops every message.
type Disabled struct{}

func (Disabled) Send(context.Context, string) bool { return false }
