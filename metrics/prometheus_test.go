package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"
)

// wantCounter compares a single-series collector with want.
func wantCounter(t *testing.T, name string, c prometheus.Collector, want float64) {
	t.Helper()
	if got := testutil.ToFloat64(c); got != want {
		t.Errorf("%s = %v, want %v", name, got, want)
	}
}

func TestPrometheus_Cache(t *testing.T) {
	p := NewPrometheus(prometheus.NewRegistry())

	p.CacheHit("image")
	p.CacheHit("image")
	p.CacheMiss("image")
	p.ModelLoaded("image", time.Second, nil)
	p.ModelLoaded("image", time.Second, errors.New("boom"))
	p.ModelEvicted("chat")
	p.SetResident("image", 2)

	wantCounter(t, "hits", p.cacheHits.WithLabelValues("image"), 2)
	wantCounter(t, "misses", p.cacheMisses.WithLabelValues("image"), 1)
	wantCounter(t, "loads success", p.cacheLoads.WithLabelValues("image", "success"), 1)
	wantCounter(t, "loads failure", p.cacheLoads.WithLabelValues("image", "failure"), 1)
	wantCounter(t, "evictions", p.cacheEvictions.WithLabelValues("chat"), 1)
	wantCounter(t, "resident", p.cacheResident.WithLabelValues("image"), 2)
}

func TestPrometheus_PipelineAndPool(t *testing.T) {
	p := NewPrometheus(prometheus.NewRegistry())

	p.PipelineFinished("depth", StatusSuccess, 10*time.Millisecond)
	p.PoolActive(1)
	p.PoolQueued(2)
	p.PoolQueued(-1)
	p.PoolRejected()
	p.SetSessions(3)

	wantCounter(t, "pipeline runs", p.pipelineRuns.WithLabelValues("depth", StatusSuccess), 1)
	wantCounter(t, "pool active", p.poolActive, 1)
	wantCounter(t, "pool queued", p.poolQueued, 1)
	wantCounter(t, "pool rejected", p.poolRejected, 1)
	wantCounter(t, "sessions", p.sessionsActive, 3)
}

func TestPrometheus_NilSafe(t *testing.T) {
	var p *Prometheus
	p.CacheHit("image")
	p.ModelLoaded("image", 0, nil)
	p.PipelineFinished("chat", StatusError, 0)
	p.PoolRejected()
	p.GPU(GPUMetrics{})
	p.SetSessions(1)
}

func TestParseNvidiaSMIOutput(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		want    GPUMetrics
		wantErr bool
	}{
		{
			name:   "single gpu",
			output: "35, 61, 1024, 8192\n",
			want: GPUMetrics{
				Utilization: 35,
				Temperature: 61,
				MemoryUsed:  1024 << 20,
				MemoryTotal: 8192 << 20,
				MemoryFree:  7168 << 20,
			},
		},
		{name: "empty", output: "  ", wantErr: true},
		{name: "short", output: "35, 61", wantErr: true},
		{name: "not a number", output: "N/A, 61, 1, 2", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseNvidiaSMIOutput(tt.output)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseNvidiaSMIOutput() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseNvidiaSMIOutput() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestGPUSampler_SampleOnce(t *testing.T) {
	store := NewStore(DefaultStoreConfig(), time.Now())
	prom := NewPrometheus(prometheus.NewRegistry())
	sample := GPUMetrics{Utilization: 80, MemoryUsed: 512}
	fail := false
	reader := GPUReaderFunc(func(context.Context) (GPUMetrics, error) {
		if fail {
			return GPUMetrics{}, ErrGPUUnavailable
		}
		return sample, nil
	})

	s := NewGPUSampler(DefaultGPUSamplerConfig(), reader, store, prom, zaptest.NewLogger(t))
	s.SampleOnce(context.Background())

	if err := s.LastError(); err != nil {
		t.Fatalf("LastError() = %v", err)
	}
	if n := s.Samples(); n != 1 {
		t.Errorf("Samples() = %d, want 1", n)
	}
	if got := store.GetGPUMetrics(); got != sample {
		t.Errorf("stored metrics = %+v, want %+v", got, sample)
	}
	wantCounter(t, "gpu memory used", prom.gpuMemoryUsed, 512)

	fail = true
	s.SampleOnce(context.Background())
	if err := s.LastError(); !errors.Is(err, ErrGPUUnavailable) {
		t.Errorf("LastError() = %v, want ErrGPUUnavailable", err)
	}
	if got := store.GetGPUMetrics(); got != sample {
		t.Errorf("failed sample replaced the snapshot with %+v", got)
	}
}

func TestGPUSampler_StartStop(t *testing.T) {
	calls := make(chan struct{}, 8)
	reader := GPUReaderFunc(func(context.Context) (GPUMetrics, error) {
		select {
		case calls <- struct{}{}:
		default:
		}
		return GPUMetrics{}, nil
	})

	s := NewGPUSampler(GPUSamplerConfig{Interval: time.Hour}, reader, nil, nil, nil)
	s.Start(context.Background())
	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("sampler did not sample on start")
	}
	s.Stop()
	if n := s.Samples(); n != 1 {
		t.Errorf("Samples() = %d, want 1", n)
	}
}
