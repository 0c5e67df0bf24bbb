// Package pipeline runs generation requests as staged jobs that stream
// ProgressEvents to the caller.
//
// Every run emits zero or more stage events followed by exactly one
// terminal event (complete or error), after which the event channel is
// closed.
package pipeline

import (
	"image"
	"time"

	"ai_workspace/vision"
)

// Stage and terminal statuses.
const (
	StatusInitializing   = "initializing"
	StatusLoadingModel   = "loading_model"
	StatusThinking       = "thinking"
	StatusGenerating     = "generating"
	StatusProcessing     = "processing"
	StatusPostProcessing = "post_processing"
	StatusComplete       = "complete"
	StatusError          = "error"
)

// Pipeline names used in metrics, logs and results.
const (
	KindImage        = "image"
	KindDepth        = "depth"
	KindSegmentation = "segmentation"
	KindNormalMap    = "normal_map"
	KindChat         = "chat"
)

// ProgressEvent is one step of a run. Progress is nil when the stage does
// not report a fraction.
type ProgressEvent struct {
	Status   string   `json:"status"`
	Progress *float64 `json:"progress,omitempty"`
	Message  string   `json:"message,omitempty"`
	Result   *Result  `json:"result,omitempty"`
	Err      error    `json:"-"`
	Error    string   `json:"error,omitempty"`
}

// IsTerminal reports whether e ends the stream.
func (e ProgressEvent) IsTerminal() bool {
	return e.Status == StatusComplete || e.Status == StatusError
}

// Result carries the artifacts of a successful run. Only the fields of the
// producing pipeline are set.
type Result struct {
	RequestID string        `json:"request_id"`
	Kind      string        `json:"kind"`
	Model     string        `json:"model,omitempty"`
	Backend   string        `json:"backend,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`

	// Image. Files holds the saved output names, index-aligned with Images.
	Images [][]byte `json:"-"`
	Files  []string `json:"files,omitempty"`

	// Depth
	Depth    *image.Gray      `json:"-"`
	DepthRaw *vision.FloatMap `json:"-"`

	// Segmentation
	Mask   *image.Gray  `json:"-"`
	Cutout *image.NRGBA `json:"-"`

	// NormalMap
	Normal *image.RGBA `json:"-"`

	// Conversation
	Reply string `json:"reply,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

func progress(f float64) *float64 {
	return &f
}
