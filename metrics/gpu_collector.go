package metrics

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrGPUUnavailable is returned when no vendor GPU query tool is present.
var ErrGPUUnavailable = errors.New("metrics: vendor GPU unavailable")

// GPUReader reads one GPU sample.
type GPUReader interface {
	ReadGPU(ctx context.Context) (GPUMetrics, error)
}

// GPUReaderFunc adapts a function to GPUReader.
type GPUReaderFunc func(ctx context.Context) (GPUMetrics, error)

// ReadGPU calls f.
func (f GPUReaderFunc) ReadGPU(ctx context.Context) (GPUMetrics, error) { return f(ctx) }

// NvidiaSMIReader queries nvidia-smi for utilization, temperature and memory.
type NvidiaSMIReader struct {
	// Path defaults to "nvidia-smi" resolved through PATH
	Path    string
	Timeout time.Duration
}

// ReadGPU runs one nvidia-smi query.
func (r NvidiaSMIReader) ReadGPU(ctx context.Context) (GPUMetrics, error) {
	path := r.Path
	if path == "" {
		path = "nvidia-smi"
	}
	if _, err := exec.LookPath(path); err != nil {
		return GPUMetrics{}, ErrGPUUnavailable
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, path,
		"--query-gpu=utilization.gpu,temperature.gpu,memory.used,memory.total",
		"--format=csv,noheader,nounits")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return GPUMetrics{}, fmt.Errorf("nvidia-smi failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}
	return parseNvidiaSMIOutput(stdout.String())
}

// parseNvidiaSMIOutput reads the first GPU line. Memory is reported in MiB.
func parseNvidiaSMIOutput(output string) (GPUMetrics, error) {
	output = strings.TrimSpace(output)
	if output == "" {
		return GPUMetrics{}, errors.New("empty nvidia-smi output")
	}
	record, err := csv.NewReader(strings.NewReader(output)).Read()
	if err != nil {
		return GPUMetrics{}, fmt.Errorf("failed to parse CSV: %w", err)
	}
	if len(record) < 4 {
		return GPUMetrics{}, fmt.Errorf("unexpected field count: got %d, expected 4", len(record))
	}

	var vals [4]float64
	names := [4]string{"utilization", "temperature", "memory used", "memory total"}
	for i := range vals {
		v, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64)
		if err != nil {
			return GPUMetrics{}, fmt.Errorf("failed to parse %s: %w", names[i], err)
		}
		vals[i] = v
	}

	const mib = 1024 * 1024
	used := int64(vals[2] * mib)
	total := int64(vals[3] * mib)
	return GPUMetrics{
		Utilization: vals[0],
		Temperature: vals[1],
		MemoryUsed:  used,
		MemoryTotal: total,
		MemoryFree:  total - used,
	}, nil
}

// GPUSamplerConfig configures the GPUSampler.
type GPUSamplerConfig struct {
	Interval time.Duration
}

// DefaultGPUSamplerConfig samples every five seconds.
func DefaultGPUSamplerConfig() GPUSamplerConfig {
	return GPUSamplerConfig{Interval: 5 * time.Second}
}

// GPUSampler polls a GPUReader and pushes samples into a Collector and
// the Prometheus gauges. It runs only when the host has a vendor GPU.
type GPUSampler struct {
	config GPUSamplerConfig
	reader GPUReader
	store  Collector
	prom   *Prometheus
	logger *zap.Logger

	mu        sync.Mutex
	lastError error
	samples   int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewGPUSampler creates a sampler. store and prom may be nil.
func NewGPUSampler(config GPUSamplerConfig, reader GPUReader, store Collector, prom *Prometheus, logger *zap.Logger) *GPUSampler {
	if config.Interval <= 0 {
		config.Interval = DefaultGPUSamplerConfig().Interval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GPUSampler{
		config: config,
		reader: reader,
		store:  store,
		prom:   prom,
		logger: logger.Named("gpu"),
	}
}

// Start begins sampling in the background. It samples once immediately.
func (s *GPUSampler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop halts sampling and waits for the loop to exit.
func (s *GPUSampler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// LastError returns the error from the most recent sample, if any.
func (s *GPUSampler) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// Samples returns the number of successful samples.
func (s *GPUSampler) Samples() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.samples
}

func (s *GPUSampler) loop(ctx context.Context) {
	defer close(s.done)

	s.SampleOnce(ctx)
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SampleOnce(ctx)
		}
	}
}

// SampleOnce reads one sample. Failed reads keep the previous snapshot.
func (s *GPUSampler) SampleOnce(ctx context.Context) {
	m, err := s.reader.ReadGPU(ctx)

	s.mu.Lock()
	first := err != nil && s.lastError == nil
	s.lastError = err
	if err == nil {
		s.samples++
	}
	s.mu.Unlock()

	if err != nil {
		if first && ctx.Err() == nil {
			s.logger.Warn("gpu sample failed", zap.Error(err))
		}
		return
	}
	if s.store != nil {
		s.store.UpdateGPUMetrics(m)
	}
	s.prom.GPU(m)
}
