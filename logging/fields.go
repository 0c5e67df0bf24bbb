package logging

import (
	"time"

	"go.uber.org/zap"
)

// Field keys shared by the orchestration packages.
const (
	KeyKind      = "kind"
	KeyModelID   = "model_id"
	KeyBackend   = "backend"
	KeyStage     = "stage"
	KeySessionID = "session_id"
	KeyRequestID = "request_id"
	KeyDuration  = "duration"
)

// Kind tags an entry with the engine kind (image, depth, chat, ...).
func Kind(kind string) zap.Field { return zap.String(KeyKind, kind) }

// ModelID tags an entry with a model identifier.
func ModelID(id string) zap.Field { return zap.String(KeyModelID, id) }

// Backend tags an entry with the backend identity.
func Backend(name string) zap.Field { return zap.String(KeyBackend, name) }

// Stage tags an entry with a pipeline stage name.
func Stage(stage string) zap.Field { return zap.String(KeyStage, stage) }

// SessionID tags an entry with a chat session id.
func SessionID(id string) zap.Field { return zap.String(KeySessionID, id) }

// RequestID tags an entry with a pipeline request id.
func RequestID(id string) zap.Field { return zap.String(KeyRequestID, id) }

// Duration records an elapsed time.
func Duration(d time.Duration) zap.Field { return zap.Duration(KeyDuration, d) }

// Since records the time elapsed since start.
func Since(start time.Time) zap.Field { return zap.Duration(KeyDuration, time.Since(start)) }
