package metrics

// Collector is the read/write surface the pipelines and the web UI share.
// Implementations must be safe for concurrent use and return zero values
// for metrics they do not have.
type Collector interface {
	// RecordGeneration logs a finished pipeline run.
	RecordGeneration(rec GenerationRecord)

	// GetGenerationMetrics returns aggregated statistics.
	GetGenerationMetrics() GenerationMetrics

	// GetRecentGenerations returns up to limit recent records, oldest first.
	GetRecentGenerations(limit int) []GenerationRecord

	// UpdateGPUMetrics replaces the GPU snapshot.
	UpdateGPUMetrics(gpu GPUMetrics)

	// GetGPUMetrics returns the latest GPU snapshot.
	GetGPUMetrics() GPUMetrics

	// GetSystemStatus returns the overall health.
	GetSystemStatus() SystemStatus
}
