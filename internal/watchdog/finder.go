package watchdog

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/shirou/gopsutil/v4/process"
)

var (
	// ErrProcessNotFound is returned when no process has the watched name.
	ErrProcessNotFound = errors.New("process not found")
	// ErrProcessChanged is returned by Kill when the PID now belongs to a
	// different process instance than the one observed.
	ErrProcessChanged = errors.New("process instance changed")
)

// Process is one observation of the watched process.
type Process struct {
	PID        int32 `json:"pid"`
	Zombie     bool  `json:"zombie"`
	Running    bool  `json:"running"`
	CreateTime int64 `json:"create_time,omitempty"` // unix millis, 0 when unknown
}

// Finder locates processes by exact name and can kill them.
type Finder interface {
	Find(ctx context.Context, name string) (Process, error)
	Kill(ctx context.Context, p Process) error
}

// SystemFinder is the gopsutil backed Finder. When several processes share
// the name the lowest PID is used.
type SystemFinder struct{}

func (SystemFinder) Find(ctx context.Context, name string) (Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return Process{}, fmt.Errorf("list processes: %w", err)
	}
	var matches []*process.Process
	for _, p := range procs {
		n, err := p.NameWithContext(ctx)
		if err != nil {
			// vanished or access denied
			continue
		}
		if n == name {
			matches = append(matches, p)
		}
	}
	slices.SortFunc(matches, func(a, b *process.Process) int { return cmp.Compare(a.Pid, b.Pid) })
	for _, p := range matches {
		obs, err := observe(ctx, p)
		if err != nil {
			continue
		}
		return obs, nil
	}
	return Process{}, ErrProcessNotFound
}

func observe(ctx context.Context, p *process.Process) (Process, error) {
	status, err := p.StatusWithContext(ctx)
	if err != nil {
		return Process{}, err
	}
	running, err := p.IsRunningWithContext(ctx)
	if err != nil {
		return Process{}, err
	}
	created, _ := p.CreateTimeWithContext(ctx)
	return Process{
		PID:        p.Pid,
		Zombie:     slices.Contains(status, process.Zombie),
		Running:    running,
		CreateTime: created,
	}, nil
}

func (SystemFinder) Kill(ctx context.Context, target Process) error {
	p, err := process.NewProcessWithContext(ctx, target.PID)
	if err != nil {
		return fmt.Errorf("%w: pid %d", ErrProcessNotFound, target.PID)
	}
	if target.CreateTime > 0 {
		if created, err := p.CreateTimeWithContext(ctx); err == nil && created != target.CreateTime {
			return fmt.Errorf("%w: pid %d", ErrProcessChanged, target.PID)
		}
	}
	if err := p.KillWithContext(ctx); err != nil {
		return fmt.Errorf("kill pid %d: %w", target.PID, err)
	}
	return nil
}
