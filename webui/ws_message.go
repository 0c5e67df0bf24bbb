package webui

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"strings"
	"time"

	"ai_workspace/core"
	"ai_workspace/pipeline"
	"ai_workspace/sdruntime"
)

// Client actions accepted on /ws.
const (
	ActionImage   = "image"
	ActionDepth   = "depth"
	ActionSegment = "segment"
	ActionNormal  = "normal"
	ActionChat    = "chat"
	ActionCancel  = "cancel"
)

// Server message types sent on /ws.
const (
	MessageTypeAccepted = "accepted"
	MessageTypeProgress = "progress"
	MessageTypeComplete = "complete"
	MessageTypeError    = "error"
)

// ClientMessage is one request from a WebSocket client. ID is chosen by the
// client and echoed on every reply; cancel refers to it.
type ClientMessage struct {
	ID      string          `json:"id"`
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSMessage is the envelope for every server message.
type WSMessage struct {
	Type      string         `json:"type"`
	ID        string         `json:"id,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Status    string         `json:"status,omitempty"`
	Progress  *float64       `json:"progress,omitempty"`
	Message   string         `json:"message,omitempty"`
	Result    *ResultPayload `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	Code      string         `json:"code,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ResultPayload is a pipeline.Result with images encoded as PNG data URLs.
type ResultPayload struct {
	RequestID string         `json:"request_id"`
	Kind      string         `json:"kind"`
	Model     string         `json:"model,omitempty"`
	Backend   string         `json:"backend,omitempty"`
	ElapsedMS int64          `json:"elapsed_ms"`
	Images    []string       `json:"images,omitempty"`
	Files     []string       `json:"files,omitempty"`
	Depth     string         `json:"depth,omitempty"`
	DepthRaw  *RawDepth      `json:"depth_raw,omitempty"`
	Mask      string         `json:"mask,omitempty"`
	Cutout    string         `json:"cutout,omitempty"`
	Normal    string         `json:"normal,omitempty"`
	Reply     string         `json:"reply,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// RawDepth is an unnormalized depth map in row-major order.
type RawDepth struct {
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Data   []float32 `json:"data"`
}

// Request payloads.

type imagePayload struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt"`
	Model          string  `json:"model"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Steps          int     `json:"steps"`
	Guidance       float64 `json:"guidance"`
	GuidanceScale  float64 `json:"guidance_scale"`
	Seed           *int64  `json:"seed"`
	BatchSize      int     `json:"batch_size"`
}

// request maps the payload; guidance_scale is accepted as an alias.
func (p imagePayload) request() pipeline.ImageRequest {
	guidance := p.Guidance
	if guidance == 0 {
		guidance = p.GuidanceScale
	}
	return pipeline.ImageRequest{
		Prompt:         p.Prompt,
		NegativePrompt: p.NegativePrompt,
		Model:          p.Model,
		Width:          p.Width,
		Height:         p.Height,
		Steps:          p.Steps,
		Guidance:       guidance,
		Seed:           p.Seed,
		BatchSize:      p.BatchSize,
	}
}

type depthPayload struct {
	Image        string `json:"image"`
	Model        string `json:"model"`
	OutputFormat string `json:"output_format"`
}

type segmentPayload struct {
	Image            string `json:"image"`
	Model            string `json:"model"`
	CleanMask        *bool  `json:"clean_mask"`
	RemoveBackground *bool  `json:"remove_background"`
}

type normalPayload struct {
	Depth      string  `json:"depth"`
	Strength   float64 `json:"strength"`
	BlurRadius int     `json:"blur_radius"`
}

type chatPayload struct {
	SessionID   string                `json:"session_id"`
	Message     string                `json:"message"`
	CodeContext *pipeline.CodeContext `json:"code_context"`
	Temperature *float64              `json:"temperature"`
	MaxTokens   int                   `json:"max_tokens"`
	TopP        *float64              `json:"top_p"`
}

// decodeBase64Image accepts raw base64 or a data URL.
func decodeBase64Image(field, s string) ([]byte, error) {
	if s == "" {
		return nil, core.NewInvalidRequest(field, "is required")
	}
	if strings.HasPrefix(s, "data:") {
		i := strings.Index(s, ",")
		if i < 0 {
			return nil, core.NewInvalidRequest(field, "malformed data URL")
		}
		s = s[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, core.NewInvalidRequest(field, "invalid base64: %v", err)
	}
	return data, nil
}

// eventMessage converts a pipeline event for the wire.
func eventMessage(id, requestID string, ev pipeline.ProgressEvent) WSMessage {
	msg := WSMessage{
		ID:        id,
		RequestID: requestID,
		Status:    ev.Status,
		Progress:  ev.Progress,
		Message:   ev.Message,
		Timestamp: time.Now(),
	}
	switch ev.Status {
	case pipeline.StatusComplete:
		msg.Type = MessageTypeComplete
		payload, err := encodeResult(ev.Result)
		if err != nil {
			return errorMessage(id, requestID, err)
		}
		msg.Result = payload
	case pipeline.StatusError:
		msg.Type = MessageTypeError
		msg.Error = ev.Error
		msg.Code = errorCode(ev.Err)
	default:
		msg.Type = MessageTypeProgress
	}
	return msg
}

func errorMessage(id, requestID string, err error) WSMessage {
	return WSMessage{
		Type:      MessageTypeError,
		ID:        id,
		RequestID: requestID,
		Status:    pipeline.StatusError,
		Error:     err.Error(),
		Code:      errorCode(err),
		Timestamp: time.Now(),
	}
}

// errorCode maps the error taxonomy to stable client codes.
func errorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case core.IsInvalidRequest(err):
		return "invalid_request"
	case core.IsSessionNotFound(err):
		return "session_not_found"
	case core.IsResourceExhausted(err):
		if errors.Is(err, core.ErrBusy) {
			return "busy"
		}
		return "resource_exhausted"
	case core.IsLoadError(err):
		return "load_error"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case core.IsComputeError(err):
		return "compute_error"
	}
	return "internal"
}

func encodeResult(r *pipeline.Result) (*ResultPayload, error) {
	if r == nil {
		return nil, nil
	}
	out := &ResultPayload{
		RequestID: r.RequestID,
		Kind:      r.Kind,
		Model:     r.Model,
		Backend:   r.Backend,
		ElapsedMS: r.Elapsed.Milliseconds(),
		Reply:     r.Reply,
		Files:     r.Files,
		Metadata:  r.Metadata,
	}
	for _, png := range r.Images {
		out.Images = append(out.Images, sdruntime.PNGDataURL(png))
	}
	var err error
	if r.Depth != nil {
		if out.Depth, err = pngURL(r.Depth); err != nil {
			return nil, err
		}
	}
	if r.DepthRaw != nil {
		out.DepthRaw = &RawDepth{Width: r.DepthRaw.W, Height: r.DepthRaw.H, Data: r.DepthRaw.Pix}
	}
	if r.Mask != nil {
		if out.Mask, err = pngURL(r.Mask); err != nil {
			return nil, err
		}
	}
	if r.Cutout != nil {
		if out.Cutout, err = pngURL(r.Cutout); err != nil {
			return nil, err
		}
	}
	if r.Normal != nil {
		if out.Normal, err = pngURL(r.Normal); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func pngURL(img image.Image) (string, error) {
	data, err := sdruntime.EncodePNG(img)
	if err != nil {
		return "", err
	}
	return sdruntime.PNGDataURL(data), nil
}
