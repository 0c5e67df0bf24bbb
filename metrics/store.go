// Package metrics provides the Store organism for in-memory generation
// metrics and the Prometheus collectors exported on /metrics.
package metrics

import (
	"sync"
	"time"
)

// Store is an in-memory storage organism for dashboard metrics.
// It keeps a ring of recent GenerationRecords, per-kind aggregates and the
// latest GPU snapshot.
//
// Usage:
//
//	store := NewStore(DefaultStoreConfig(), time.Now())
//	store.RecordGeneration(rec)
//	m := store.GetGenerationMetrics()
type Store struct {
	mu sync.RWMutex

	history []GenerationRecord
	cap     int
	head    int
	size    int

	total    int64
	success  int64
	errors   int64
	canceled int64
	byKind   map[string]*kindStats

	gpu GPUMetrics

	// consecutive errors since the last success, drives Health
	errorStreak   int
	degradedAfter int

	startTime time.Time
	version   string
}

type kindStats struct {
	count         int64
	successCount  int64
	totalDuration time.Duration
}

// StoreConfig configures the Store.
type StoreConfig struct {
	// HistoryCapacity is the max number of records to retain
	HistoryCapacity int
	// Version is the application version string
	Version string
	// DegradedAfter consecutive errors flips Health to degraded
	DegradedAfter int
}

// DefaultStoreConfig returns a default configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		HistoryCapacity: 100,
		Version:         "0.0.0",
		DegradedAfter:   5,
	}
}

// NewStore creates a Store. startTime is used to calculate uptime.
func NewStore(config StoreConfig, startTime time.Time) *Store {
	capacity := config.HistoryCapacity
	if capacity < 1 {
		capacity = 100
	}
	if config.DegradedAfter < 1 {
		config.DegradedAfter = DefaultStoreConfig().DegradedAfter
	}
	return &Store{
		history:       make([]GenerationRecord, capacity),
		cap:           capacity,
		byKind:        make(map[string]*kindStats),
		degradedAfter: config.DegradedAfter,
		startTime:     startTime,
		version:       config.Version,
	}
}

// RecordGeneration logs a finished pipeline run.
func (s *Store) RecordGeneration(rec GenerationRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history[s.head] = rec
	s.head = (s.head + 1) % s.cap
	if s.size < s.cap {
		s.size++
	}

	s.total++
	switch rec.Status {
	case StatusSuccess:
		s.success++
		s.errorStreak = 0
	case StatusError:
		s.errors++
		s.errorStreak++
	case StatusCanceled:
		s.canceled++
	}

	stats, ok := s.byKind[rec.Kind]
	if !ok {
		stats = &kindStats{}
		s.byKind[rec.Kind] = stats
	}
	stats.count++
	if rec.Status == StatusSuccess {
		stats.successCount++
	}
	stats.totalDuration += rec.Duration
}

// GetGenerationMetrics returns aggregated statistics.
func (s *Store) GetGenerationMetrics() GenerationMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := GenerationMetrics{
		TotalProcessed: s.total,
		TotalSuccess:   s.success,
		TotalErrors:    s.errors,
		TotalCanceled:  s.canceled,
		ByKind:         make(map[string]*KindMetrics, len(s.byKind)),
	}
	for kind, stats := range s.byKind {
		km := &KindMetrics{Count: stats.count}
		if stats.count > 0 {
			km.SuccessRate = float64(stats.successCount) / float64(stats.count) * 100
			km.AvgDuration = stats.totalDuration / time.Duration(stats.count)
		}
		m.ByKind[kind] = km
	}
	return m
}

// GetRecentGenerations returns up to limit records, oldest first.
func (s *Store) GetRecentGenerations(limit int) []GenerationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || s.size == 0 {
		return []GenerationRecord{}
	}
	limit = min(limit, s.size)

	result := make([]GenerationRecord, limit)
	for i := 0; i < limit; i++ {
		idx := (s.head - limit + i + s.cap) % s.cap
		result[i] = s.history[idx]
	}
	return result
}

// UpdateGPUMetrics replaces the GPU snapshot.
func (s *Store) UpdateGPUMetrics(gpu GPUMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gpu = gpu
}

// GetGPUMetrics returns the latest GPU snapshot.
func (s *Store) GetGPUMetrics() GPUMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gpu
}

// GetSystemStatus reports degraded after a run of consecutive errors.
func (s *Store) GetSystemStatus() SystemStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	health := SystemHealthRunning
	if s.errorStreak >= s.degradedAfter {
		health = SystemHealthDegraded
	}
	return SystemStatus{
		Health:    health,
		Version:   s.version,
		Uptime:    time.Since(s.startTime),
		LastCheck: time.Now(),
	}
}

// Verify Store implements Collector
var _ Collector = (*Store)(nil)
