// Package firewall implements the port gate: blocking and re-allowing inbound
// traffic on the game server's ports.
package firewall

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"

	"github.com/loykin/gatewarden/internal/metrics"
)

// Protocol is a transport protocol understood by the gate.
type Protocol string

const (
	TCP Protocol = "TCP"
	UDP Protocol = "UDP"
)

// ParseProtocol normalizes a protocol name.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TCP":
		return TCP, nil
	case "UDP":
		return UDP, nil
	default:
		return "", fmt.Errorf("unknown protocol %q (want TCP or UDP)", s)
	}
}

// Port is a single port/protocol pair.
type Port struct {
	Number   int      `json:"port"`
	Protocol Protocol `json:"protocol"`
}

func (p Port) String() string { return fmt.Sprintf("%d/%s", p.Number, p.Protocol) }

// Gate blocks and allows inbound traffic on a set of ports.
// Both calls are idempotent and best-effort: failures are logged by the
// implementation and never returned to the caller.
type Gate interface {
	Block(ctx context.Context, ports []Port)
	Allow(ctx context.Context, ports []Port)
}

// Backend names accepted in configuration.
const (
	BackendAuto     = "auto"
	BackendNetsh    = "netsh"
	BackendIPTables = "iptables"
	BackendNone     = "none"
)

// Options configures New.
type Options struct {
	Enabled    bool
	Backend    string
	RulePrefix string
	Logger     *slog.Logger
	// Runner executes the firewall commands; nil uses ExecRunner.
	Runner Runner
}

// DefaultRulePrefix names the firewall rules created by the gate.
const DefaultRulePrefix = "GameServerControl"

// New returns the gate selected by opts. A disabled gate only logs.
func New(opts Options) (Gate, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "firewall")
	if !opts.Enabled {
		return Disabled{logger: log}, nil
	}
	prefix := opts.RulePrefix
	if prefix == "" {
		prefix = DefaultRulePrefix
	}
	runner := opts.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	backend := strings.ToLower(strings.TrimSpace(opts.Backend))
	if backend == "" || backend == BackendAuto {
		if runtime.GOOS == "windows" {
			backend = BackendNetsh
		} else {
			backend = BackendIPTables
		}
	}
	switch backend {
	case BackendNetsh:
		return &CommandGate{logger: log, runner: runner, rules: netshRules{prefix: prefix}}, nil
	case BackendIPTables:
		return &CommandGate{logger: log, runner: runner, rules: iptablesRules{prefix: prefix}}, nil
	case BackendNone:
		return Disabled{logger: log}, nil
	default:
		return nil, fmt.Errorf("unknown firewall backend %q", opts.Backend)
	}
}

// Disabled is the gate used when firewall management is turned off.
type Disabled struct{ logger *slog.Logger }

func (d Disabled) Block(_ context.Context, _ []Port) {
	if d.logger != nil {
		d.logger.Info("firewall management disabled, skipping port blocking")
	}
}

func (d Disabled) Allow(_ context.Context, _ []Port) {
	if d.logger != nil {
		d.logger.Info("firewall management disabled, skipping port allowing")
	}
}

// ruleSet renders the commands that block or allow one port. exists returns
// nil when the backend has no cheap way to probe for a rule.
type ruleSet interface {
	block(p Port) []string
	allow(p Port) []string
	exists(p Port) []string
}

// CommandGate drives an OS firewall through its command line tool.
type CommandGate struct {
	logger *slog.Logger
	runner Runner
	rules  ruleSet
}

func (g *CommandGate) Block(ctx context.Context, ports []Port) {
	g.apply(ctx, "block", ports, g.rules.block)
}

func (g *CommandGate) Allow(ctx context.Context, ports []Port) {
	g.apply(ctx, "allow", ports, g.rules.allow)
}

func (g *CommandGate) apply(ctx context.Context, action string, ports []Port, render func(Port) []string) {
	if len(ports) == 0 {
		g.logger.Error("no ports configured, skipping", "action", action)
		return
	}
	failed := 0
	for _, p := range ports {
		if probe := g.rules.exists(p); probe != nil {
			present := g.runner.Run(ctx, probe[0], probe[1:]...) == nil
			if present == (action == "block") {
				continue
			}
		}
		argv := render(p)
		if err := g.runner.Run(ctx, argv[0], argv[1:]...); err != nil {
			failed++
			g.logger.Error("firewall command failed", "action", action, "port", p.String(), "error", err)
		}
	}
	if failed == 0 {
		metrics.IncPortGate(action, true)
		g.logger.Info("ports updated", "action", action, "count", len(ports))
		return
	}
	metrics.IncPortGate(action, false)
}

// RuleName is the firewall rule name used for a port.
func RuleName(prefix string, p Port) string {
	return fmt.Sprintf("%s_%d_%s", prefix, p.Number, p.Protocol)
}

type netshRules struct{ prefix string }

func (r netshRules) block(p Port) []string {
	return []string{"netsh", "advfirewall", "firewall", "add", "rule",
		"name=" + RuleName(r.prefix, p), "dir=in", "action=block",
		"protocol=" + string(p.Protocol), fmt.Sprintf("localport=%d", p.Number)}
}

func (r netshRules) allow(p Port) []string {
	return []string{"netsh", "advfirewall", "firewall", "delete", "rule", "name=" + RuleName(r.prefix, p)}
}

// exists uses "show rule", which exits non-zero when no rule matches.
func (r netshRules) exists(p Port) []string {
	return []string{"netsh", "advfirewall", "firewall", "show", "rule", "name=" + RuleName(r.prefix, p)}
}

type iptablesRules struct{ prefix string }

func (r iptablesRules) ruleArgs(op string, p Port) []string {
	proto := strings.ToLower(string(p.Protocol))
	return []string{"iptables", op, "INPUT", "-p", proto, "--dport", fmt.Sprintf("%d", p.Number),
		"-m", "comment", "--comment", RuleName(r.prefix, p), "-j", "DROP"}
}

func (r iptablesRules) block(p Port) []string  { return r.ruleArgs("-I", p) }
func (r iptablesRules) allow(p Port) []string  { return r.ruleArgs("-D", p) }
func (r iptablesRules) exists(p Port) []string { return r.ruleArgs("-C", p) }
