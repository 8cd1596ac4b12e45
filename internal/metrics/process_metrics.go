package metrics

import (
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// ProcessSample holds CPU and memory readings for the game server process.
type ProcessSample struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	Timestamp  time.Time `json:"timestamp"`
}

var (
	serverCPUPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server_process",
			Name:      "cpu_percent",
			Help:      "CPU usage percentage of the monitored server process.",
		},
	)
	serverMemoryMB = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server_process",
			Name:      "memory_mb",
			Help:      "Resident memory in MB of the monitored server process.",
		},
	)
	serverThreads = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server_process",
			Name:      "num_threads",
			Help:      "Thread count of the monitored server process.",
		},
	)
)

// SampleProcess reads resource usage for pid.
func SampleProcess(pid int32) (ProcessSample, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return ProcessSample{}, fmt.Errorf("failed to create process handle: %w", err)
	}
	// CPU percent may be 0 on the first call for a handle
	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		slog.Debug("Failed to get CPU percent", "pid", pid, "error", err)
		cpuPercent = 0
	}
	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return ProcessSample{}, fmt.Errorf("failed to get memory info: %w", err)
	}
	numThreads, err := proc.NumThreads()
	if err != nil {
		slog.Debug("Failed to get thread count", "pid", pid, "error", err)
		numThreads = 0
	}
	s := ProcessSample{
		PID:        pid,
		CPUPercent: cpuPercent,
		MemoryMB:   float64(memInfo.RSS) / 1024 / 1024,
		MemoryRSS:  memInfo.RSS,
		NumThreads: numThreads,
		Timestamp:  time.Now(),
	}
	if runtime.GOOS != "windows" {
		if n, err := proc.NumFDs(); err == nil {
			s.NumFDs = n
		}
	}
	return s, nil
}

// ObserveServerProcess publishes a sample to the server_process gauges.
func ObserveServerProcess(s ProcessSample) {
	if !regOK.Load() {
		return
	}
	serverCPUPercent.Set(s.CPUPercent)
	serverMemoryMB.Set(s.MemoryMB)
	serverThreads.Set(float64(s.NumThreads))
}

// ClearServerProcess zeroes the gauges once the process is gone.
func ClearServerProcess() {
	if !regOK.Load() {
		return
	}
	serverCPUPercent.Set(0)
	serverMemoryMB.Set(0)
	serverThreads.Set(0)
}
