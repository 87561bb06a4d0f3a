package metrics

import (
	"log/slog"
	"runtime"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

var (
	childCPUPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "runonce",
			Subsystem: "child",
			Name:      "cpu_percent",
			Help:      "CPU usage of the supervised instance at the last sample.",
		}, []string{"task"},
	)
	childRSSBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "runonce",
			Subsystem: "child",
			Name:      "memory_rss_bytes",
			Help:      "Resident memory of the supervised instance at the last sample.",
		}, []string{"task"},
	)
	childPeakRSSBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "runonce",
			Subsystem: "child",
			Name:      "memory_rss_peak_bytes",
			Help:      "Highest resident memory observed for the supervised instance.",
		}, []string{"task"},
	)
	childThreads = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "runonce",
			Subsystem: "child",
			Name:      "num_threads",
			Help:      "Thread count of the supervised instance at the last sample.",
		}, []string{"task"},
	)
	childFDs = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "runonce",
			Subsystem: "child",
			Name:      "num_fds",
			Help:      "Open file descriptors of the supervised instance at the last sample (Unix only).",
		}, []string{"task"},
	)
)

// ChildSample is one resource reading of a supervised instance.
type ChildSample struct {
	PID        int32
	CPUPercent float64
	RSS        uint64
	NumThreads int32
	NumFDs     int32
}

// ChildSampler reads CPU and memory usage of the supervised instance each
// time Sample is called and publishes it as gauges. A sampler follows one
// task; a new pid resets the CPU baseline but keeps the peak.
type ChildSampler struct {
	Task string
	Log  *slog.Logger

	mu      sync.Mutex
	proc    *process.Process
	last    ChildSample
	peakRSS uint64
}

func NewChildSampler(task string, log *slog.Logger) *ChildSampler {
	return &ChildSampler{Task: task, Log: log}
}

// Sample reads pid and updates the gauges. Failures are logged at debug level
// only; the instance may exit between ticks.
func (s *ChildSampler) Sample(pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.Log
	if log == nil {
		log = slog.Default()
	}

	if s.proc == nil || s.proc.Pid != int32(pid) {
		p, err := process.NewProcess(int32(pid))
		if err != nil {
			log.Debug("sample: process handle", "pid", pid, "error", err)
			return
		}
		s.proc = p
	}
	cs := ChildSample{PID: int32(pid)}
	// the first call only establishes the CPU baseline
	if cpu, err := s.proc.CPUPercent(); err == nil {
		cs.CPUPercent = cpu
	}
	mem, err := s.proc.MemoryInfo()
	if err != nil {
		log.Debug("sample: memory info", "pid", pid, "error", err)
		return
	}
	cs.RSS = mem.RSS
	if n, err := s.proc.NumThreads(); err == nil {
		cs.NumThreads = n
	}
	if runtime.GOOS != "windows" {
		if n, err := s.proc.NumFDs(); err == nil {
			cs.NumFDs = n
		}
	}
	s.last = cs
	s.peakRSS = max(s.peakRSS, cs.RSS)

	if !regOK.Load() {
		return
	}
	childCPUPercent.WithLabelValues(s.Task).Set(cs.CPUPercent)
	childRSSBytes.WithLabelValues(s.Task).Set(float64(cs.RSS))
	childPeakRSSBytes.WithLabelValues(s.Task).Set(float64(s.peakRSS))
	childThreads.WithLabelValues(s.Task).Set(float64(cs.NumThreads))
	if cs.NumFDs > 0 {
		childFDs.WithLabelValues(s.Task).Set(float64(cs.NumFDs))
	}
}

// Last returns the most recent successful sample.
func (s *ChildSampler) Last() (ChildSample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.last.PID != 0
}

// PeakRSS returns the highest resident memory seen so far.
func (s *ChildSampler) PeakRSS() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peakRSS
}
