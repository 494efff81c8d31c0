package backpressure

import (
	"testing"

	"go.uber.org/zap"
)

func newMonitor(t *testing.T, cfg Config) *Monitor {
	t.Helper()
	m, err := NewMonitor(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("NewMonitor: %v", err)
	}
	return m
}

func mb(n uint64) uint64 { return n << 20 }

func TestClassify(t *testing.T) {
	m := newMonitor(t, Config{ProcessLimitMB: 1000, HighWaterPercent: 70, AvailableFloorMB: 500})

	cases := []struct {
		name        string
		rssMB       uint64
		availableMB uint64
		want        Level
	}{
		{"small process, plenty available", 100, 8000, Nominal},
		{"just under high water", 699, 8000, Nominal},
		{"at high water", 700, 8000, Elevated},
		{"just under the limit", 999, 8000, Elevated},
		{"at the limit", 1000, 8000, Critical},
		{"available below floor", 100, 499, Critical},
		{"available at floor", 100, 500, Nominal},
		{"floor beats high water", 800, 100, Critical},
	}
	for _, tc := range cases {
		if got := m.classify(mb(tc.rssMB), mb(tc.availableMB)); got != tc.want {
			t.Errorf("%s: classify(%dMB, %dMB) = %v, want %v",
				tc.name, tc.rssMB, tc.availableMB, got, tc.want)
		}
	}
}

func TestRecommend(t *testing.T) {
	m := newMonitor(t, Config{MinChunkSize: 25_000})

	if got := m.Recommend(Reading{Level: Nominal}, 200_000); got != 200_000 {
		t.Fatalf("nominal changed chunk size to %d", got)
	}
	if got := m.Recommend(Reading{Level: Elevated}, 200_000); got != 200_000 {
		t.Fatalf("elevated changed chunk size to %d", got)
	}
	if got := m.Recommend(Reading{Level: Critical}, 200_000); got != 100_000 {
		t.Fatalf("critical: got %d, want 100000", got)
	}
	// Floor holds.
	if got := m.Recommend(Reading{Level: Critical}, 30_000); got != 25_000 {
		t.Fatalf("floor: got %d, want 25000", got)
	}
	if got := m.Recommend(Reading{Level: Critical}, 25_000); got != 25_000 {
		t.Fatalf("at floor: got %d, want 25000", got)
	}
}

func TestConfigValidation(t *testing.T) {
	if _, err := NewMonitor(Config{HighWaterPercent: 150}, zap.NewNop()); err == nil {
		t.Fatal("expected error for high water above 100 percent")
	}
}

func TestSampleNeverPanics(t *testing.T) {
	m := newMonitor(t, Config{})
	r := m.Sample()
	if r.Level < Nominal || r.Level > Critical {
		t.Fatalf("Level out of range: %v", r.Level)
	}
	if r.SystemAvailable == 0 {
		t.Fatal("SystemAvailable not sampled")
	}
}

func TestReclaimResamples(t *testing.T) {
	m := newMonitor(t, Config{})
	r := m.Reclaim()
	if r.Level < Nominal || r.Level > Critical {
		t.Fatalf("Level out of range after reclaim: %v", r.Level)
	}
}

func TestDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	if cfg.ProcessLimitMB != 4096 || cfg.HighWaterPercent != 70 ||
		cfg.AvailableFloorMB != 512 || cfg.MinChunkSize != 10_000 {
		t.Fatalf("defaults wrong: %+v", cfg)
	}
}
