// Package backpressure watches memory pressure between chunks and tells the
// pipeline when to shrink its working set. Pressure is advisory per sample;
// only Critical demands an action.
package backpressure

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// Level is the pressure state the monitor reports.
type Level int

const (
	Nominal Level = iota
	Elevated
	Critical
)

func (l Level) String() string {
	switch l {
	case Nominal:
		return "nominal"
	case Elevated:
		return "elevated"
	case Critical:
		return "critical"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// Config sets the memory budget the monitor enforces advisorily. Two
// triggers: the process's resident set against its configured limit, and
// an absolute floor on system available memory.
type Config struct {
	// ProcessLimitMB is the resident-set budget for this process.
	ProcessLimitMB uint64 `yaml:"process_limit_mb"`
	// HighWaterPercent of ProcessLimitMB raises Elevated. At or past the
	// full limit the level is Critical.
	HighWaterPercent float64 `yaml:"high_water_percent"`
	// AvailableFloorMB is the system available-memory floor; below it the
	// level is Critical regardless of the process's own size.
	AvailableFloorMB uint64 `yaml:"available_floor_mb"`
	MinChunkSize     int64  `yaml:"min_chunk_size"`
}

func (c *Config) ApplyDefaults() {
	if c.ProcessLimitMB == 0 {
		c.ProcessLimitMB = 4096
	}
	if c.HighWaterPercent <= 0 {
		c.HighWaterPercent = 70
	}
	if c.AvailableFloorMB == 0 {
		c.AvailableFloorMB = 512
	}
	if c.MinChunkSize <= 0 {
		c.MinChunkSize = 10_000
	}
}

// Reading is one pressure sample.
type Reading struct {
	Level           Level
	ProcessRSS      uint64
	SystemAvailable uint64
}

// Monitor samples memory between chunks and classifies pressure. Level
// transitions are logged; the caller applies the recommendation.
type Monitor struct {
	cfg    Config
	proc   *process.Process
	logger *zap.Logger
	level  Level
}

func NewMonitor(cfg Config, logger *zap.Logger) (*Monitor, error) {
	cfg.ApplyDefaults()
	if cfg.HighWaterPercent > 100 {
		return nil, fmt.Errorf("backpressure: high_water_percent %.1f must not exceed 100",
			cfg.HighWaterPercent)
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("backpressure: attaching to own process: %w", err)
	}
	return &Monitor{cfg: cfg, proc: proc, logger: logger}, nil
}

// Sample reads current memory state and classifies it. A failed sample
// reports Nominal rather than stalling the pipeline.
func (m *Monitor) Sample() Reading {
	r := Reading{Level: Nominal}

	vm, err := mem.VirtualMemory()
	if err != nil {
		m.logger.Warn("memory sample failed", zap.Error(err))
		return r
	}
	r.SystemAvailable = vm.Available
	if info, err := m.proc.MemoryInfo(); err == nil {
		r.ProcessRSS = info.RSS
	}

	r.Level = m.classify(r.ProcessRSS, r.SystemAvailable)
	if r.Level != m.level {
		m.logger.Info("memory pressure changed",
			zap.String("from", m.level.String()),
			zap.String("to", r.Level.String()),
			zap.Uint64("process_rss_mb", r.ProcessRSS>>20),
			zap.Uint64("system_available_mb", r.SystemAvailable>>20))
		m.level = r.Level
	}
	return r
}

func (m *Monitor) classify(rss, available uint64) Level {
	if available < m.cfg.AvailableFloorMB<<20 {
		return Critical
	}
	limit := m.cfg.ProcessLimitMB << 20
	switch {
	case rss >= limit:
		return Critical
	case float64(rss) >= float64(limit)*m.cfg.HighWaterPercent/100:
		return Elevated
	default:
		return Nominal
	}
}

// Reclaim returns freed memory to the OS and takes a fresh sample. Called
// on an Elevated reading so the next chunk starts from a trued-up baseline
// instead of escalating on garbage that was already collectable.
func (m *Monitor) Reclaim() Reading {
	debug.FreeOSMemory()
	return m.Sample()
}

// Recommend returns the chunk size to use next given a reading. Critical
// pressure halves the chunk, floored at the configured minimum; anything
// else keeps the current size.
func (m *Monitor) Recommend(r Reading, current int64) int64 {
	if r.Level != Critical {
		return current
	}
	next := current / 2
	if next < m.cfg.MinChunkSize {
		next = m.cfg.MinChunkSize
	}
	if next != current {
		m.logger.Warn("reducing chunk size under memory pressure",
			zap.Int64("from", current),
			zap.Int64("to", next),
			zap.Uint64("process_rss_mb", r.ProcessRSS>>20),
			zap.Uint64("system_available_mb", r.SystemAvailable>>20))
	}
	return next
}
