package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every exported metric.
const Namespace = "ai_workspace"

// Prometheus bundles every collector this service exports. Methods are
// nil-safe so components can run without metrics.
type Prometheus struct {
	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	cacheLoads     *prometheus.CounterVec
	cacheEvictions *prometheus.CounterVec
	cacheResident  *prometheus.GaugeVec
	loadDuration   *prometheus.HistogramVec

	pipelineRuns     *prometheus.CounterVec
	pipelineDuration *prometheus.HistogramVec

	poolActive   prometheus.Gauge
	poolQueued   prometheus.Gauge
	poolRejected prometheus.Counter

	gpuMemoryUsed  prometheus.Gauge
	gpuUtilization prometheus.Gauge

	sessionsActive prometheus.Gauge
}

// NewPrometheus registers all collectors on reg. Tests pass a fresh
// prometheus.NewRegistry(); main passes prometheus.DefaultRegisterer.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	f := promauto.With(reg)
	return &Prometheus{
		cacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "model_cache_hits_total",
			Help:      "Model cache lookups served by a resident model",
		}, []string{"kind"}),
		cacheMisses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "model_cache_misses_total",
			Help:      "Model cache lookups that required a load",
		}, []string{"kind"}),
		cacheLoads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "model_loads_total",
			Help:      "Model loads by result",
		}, []string{"kind", "result"}),
		cacheEvictions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "model_evictions_total",
			Help:      "Models removed from the cache",
		}, []string{"kind"}),
		cacheResident: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "models_resident",
			Help:      "Models currently held by the cache",
		}, []string{"kind"}),
		loadDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "model_load_duration_seconds",
			Help:      "Model load time",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"kind"}),

		pipelineRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "pipeline_runs_total",
			Help:      "Pipeline runs by terminal status",
		}, []string{"pipeline", "status"}),
		pipelineDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Pipeline run time from submission to terminal event",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"pipeline"}),

		poolActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "worker_pool_active",
			Help:      "Jobs currently executing",
		}),
		poolQueued: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "worker_pool_queued",
			Help:      "Jobs admitted and waiting for a worker",
		}),
		poolRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "worker_pool_rejected_total",
			Help:      "Jobs rejected because the queue was full",
		}),

		gpuMemoryUsed: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "gpu_memory_used_bytes",
			Help:      "Vendor GPU memory in use",
		}),
		gpuUtilization: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "gpu_utilization_percent",
			Help:      "Vendor GPU utilization",
		}),

		sessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "chat_sessions_active",
			Help:      "Chat sessions held in memory",
		}),
	}
}

// CacheHit counts a resident-model lookup.
func (p *Prometheus) CacheHit(kind string) {
	if p != nil {
		p.cacheHits.WithLabelValues(kind).Inc()
	}
}

// CacheMiss counts a lookup that triggered or joined a load.
func (p *Prometheus) CacheMiss(kind string) {
	if p != nil {
		p.cacheMisses.WithLabelValues(kind).Inc()
	}
}

// ModelLoaded records a load attempt and its duration.
func (p *Prometheus) ModelLoaded(kind string, d time.Duration, err error) {
	if p == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	p.cacheLoads.WithLabelValues(kind, result).Inc()
	p.loadDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// ModelEvicted counts a removal.
func (p *Prometheus) ModelEvicted(kind string) {
	if p != nil {
		p.cacheEvictions.WithLabelValues(kind).Inc()
	}
}

// SetResident sets the resident model count for kind.
func (p *Prometheus) SetResident(kind string, n int) {
	if p != nil {
		p.cacheResident.WithLabelValues(kind).Set(float64(n))
	}
}

// PipelineFinished records a terminal event.
func (p *Prometheus) PipelineFinished(pipeline, status string, d time.Duration) {
	if p == nil {
		return
	}
	p.pipelineRuns.WithLabelValues(pipeline, status).Inc()
	p.pipelineDuration.WithLabelValues(pipeline).Observe(d.Seconds())
}

// PoolActive adjusts the executing job gauge.
func (p *Prometheus) PoolActive(delta float64) {
	if p != nil {
		p.poolActive.Add(delta)
	}
}

// PoolQueued adjusts the waiting job gauge.
func (p *Prometheus) PoolQueued(delta float64) {
	if p != nil {
		p.poolQueued.Add(delta)
	}
}

// PoolRejected counts an admission failure.
func (p *Prometheus) PoolRejected() {
	if p != nil {
		p.poolRejected.Inc()
	}
}

// GPU exports a GPU sample.
func (p *Prometheus) GPU(m GPUMetrics) {
	if p == nil {
		return
	}
	p.gpuMemoryUsed.Set(float64(m.MemoryUsed))
	p.gpuUtilization.Set(m.Utilization)
}

// SetSessions sets the active session gauge.
func (p *Prometheus) SetSessions(n int) {
	if p != nil {
		p.sessionsActive.Set(float64(n))
	}
}
