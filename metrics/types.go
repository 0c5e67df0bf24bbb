// Package metrics provides pure data types for generation metrics.
// This file contains atom-level type definitions with no behavior.
package metrics

import "time"

// GenerationRecord represents one finished pipeline run.
type GenerationRecord struct {
	// ID is the request id
	ID string `json:"id"`

	// Kind is the pipeline: image, depth, segmentation, normal_map, chat
	Kind string `json:"kind"`

	// Model is the model id used, empty for model-free pipelines
	Model string `json:"model,omitempty"`

	// Backend is the compute backend the model ran on
	Backend string `json:"backend,omitempty"`

	// Status is "success", "error" or "canceled"
	Status string `json:"status"`

	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`

	// ErrorMsg contains error details if Status is "error"
	ErrorMsg string `json:"error_msg,omitempty"`
}

// GPUMetrics represents GPU resource utilization.
type GPUMetrics struct {
	// Utilization is the GPU utilization percentage (0-100)
	Utilization float64 `json:"utilization"`

	// Temperature is the GPU temperature in Celsius
	Temperature float64 `json:"temperature"`

	// MemoryTotal is the total GPU memory in bytes
	MemoryTotal int64 `json:"memory_total"`

	// MemoryUsed is the GPU memory in use in bytes
	MemoryUsed int64 `json:"memory_used"`

	// MemoryFree is the available GPU memory in bytes
	MemoryFree int64 `json:"memory_free"`
}

// SystemStatus represents the overall service health.
type SystemStatus struct {
	// Health is "running" or "degraded"
	Health string `json:"health"`

	Version   string        `json:"version"`
	Uptime    time.Duration `json:"uptime"`
	LastCheck time.Time     `json:"last_check"`
}

// GenerationMetrics aggregates GenerationRecords.
type GenerationMetrics struct {
	TotalProcessed int64                   `json:"total_processed"`
	TotalSuccess   int64                   `json:"total_success"`
	TotalErrors    int64                   `json:"total_errors"`
	TotalCanceled  int64                   `json:"total_canceled"`
	ByKind         map[string]*KindMetrics `json:"by_kind"`
}

// KindMetrics holds statistics for one pipeline kind.
type KindMetrics struct {
	Count int64 `json:"count"`

	// SuccessRate is the percentage of successful runs (0-100)
	SuccessRate float64 `json:"success_rate"`

	AvgDuration time.Duration `json:"avg_duration"`
}

// Status constants for GenerationRecord
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusCanceled = "canceled"
)

// Health constants for SystemStatus
const (
	SystemHealthRunning  = "running"
	SystemHealthDegraded = "degraded"
)
