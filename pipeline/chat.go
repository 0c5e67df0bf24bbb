package pipeline

import (
	"context"
	"strings"
	"time"

	"ai_workspace/backend"
	"ai_workspace/core"
	"ai_workspace/llamaruntime"
	"ai_workspace/session"
)

// SessionStore is the session capability the conversation pipeline needs.
type SessionStore interface {
	Get(ctx context.Context, id string) (session.Session, error)
	Append(ctx context.Context, id string, msg session.Message) error
}

// ChatRequest sends Message in session SessionID. Nil sampling overrides
// use the session settings.
type ChatRequest struct {
	SessionID   string
	Message     string
	CodeContext *CodeContext
	Temperature *float64
	MaxTokens   int
	TopP        *float64
}

// ChatConfig configures the conversation pipeline.
type ChatConfig struct {
	DefaultModel string
	// HistoryWindow is the number of most recent messages sent to the model
	HistoryWindow int
	Timeout       time.Duration
	// Files resolves code contexts sent as a path only
	Files FileReader
}

// DefaultChatConfig returns a window of ten messages.
func DefaultChatConfig() ChatConfig {
	return ChatConfig{HistoryWindow: 10, Timeout: llamaruntime.DefaultTimeout}
}

// ChatPipeline runs thinking, generating, complete.
type ChatPipeline struct {
	runner   *Runner
	models   ModelSource
	sessions SessionStore
	config   ChatConfig
}

// NewChatPipeline creates the conversation pipeline.
func NewChatPipeline(runner *Runner, models ModelSource, sessions SessionStore, config ChatConfig) *ChatPipeline {
	if config.HistoryWindow < 1 {
		config.HistoryWindow = DefaultChatConfig().HistoryWindow
	}
	return &ChatPipeline{runner: runner, models: models, sessions: sessions, config: config}
}

// Run appends the user message and streams the assistant reply. An unknown
// session fails synchronously without touching the runtime. The assistant
// message is appended only when inference succeeds.
func (p *ChatPipeline) Run(ctx context.Context, req ChatRequest) (*Stream, error) {
	text := strings.TrimSpace(req.Message)
	if text == "" {
		return nil, core.NewInvalidRequest("message", "must not be empty")
	}
	if req.MaxTokens < 0 {
		return nil, core.NewInvalidRequest("max_tokens", "must be positive, got %d", req.MaxTokens)
	}
	codeContext, err := resolveCodeContext(p.config.Files, req.CodeContext)
	if err != nil {
		return nil, err
	}
	sess, err := p.sessions.Get(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	model := sess.Model
	if model == "" {
		model = p.config.DefaultModel
	}
	settings := sess.Settings
	if req.Temperature != nil {
		settings.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		settings.TopP = *req.TopP
	}
	if req.MaxTokens > 0 {
		settings.MaxTokens = req.MaxTokens
	}

	userMsg := session.NewMessage(session.RoleUser, text)
	var codeCtx string
	if codeContext != nil {
		codeCtx = codeContext.Format()
		if codeContext.FilePath != "" {
			userMsg.Metadata = map[string]string{"code_context": codeContext.FilePath}
		}
	}
	id := req.SessionID

	body := func(ctx context.Context, r *Reporter) (*Result, error) {
		if err := r.Stage(StatusThinking); err != nil {
			return nil, err
		}
		if err := p.sessions.Append(ctx, id, userMsg); err != nil {
			return nil, err
		}
		snap, err := p.sessions.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		messages := buildMessages(snap.Window(p.config.HistoryWindow), codeCtx)

		lease, err := p.models.Acquire(ctx, backend.KindChat, model)
		if err != nil {
			return nil, err
		}
		defer lease.Release()
		chat, err := capability[ChatModel](lease)
		if err != nil {
			return nil, err
		}

		if err := r.Stage(StatusGenerating); err != nil {
			return nil, err
		}
		tokens := 0
		out, err := chat.InferStream(ctx, llamaruntime.InferenceParams{
			Messages:    messages,
			MaxTokens:   settings.MaxTokens,
			Temperature: float32(settings.Temperature),
			TopP:        float32(settings.TopP),
			Timeout:     p.config.Timeout,
		}, func(tok string) {
			tokens++
			frac := 0.0
			if settings.MaxTokens > 0 {
				frac = min(float64(tokens)/float64(settings.MaxTokens), 0.99)
			}
			r.Progress(frac, tok)
		})
		if err != nil {
			return nil, err
		}

		reply := session.NewMessage(session.RoleAssistant, out.Text)
		if err := p.sessions.Append(ctx, id, reply); err != nil {
			return nil, err
		}
		return &Result{
			Model:   model,
			Backend: string(lease.Handle().Backend()),
			Reply:   out.Text,
			Metadata: map[string]any{
				"session_id":        id,
				"tokens_generated":  out.TokensGenerated,
				"tokens_prompt":     out.TokensPrompt,
				"tokens_per_second": out.TokensPerSecond,
				"stop_reason":       out.StopReason,
				"model":             model,
			},
		}, nil
	}
	return p.runner.Start(ctx, run{kind: KindChat, model: model, body: body})
}

// buildMessages converts the window to runtime messages. A code context is
// inserted as a system message right before the latest user turn.
func buildMessages(window []session.Message, codeCtx string) []llamaruntime.Message {
	out := make([]llamaruntime.Message, 0, len(window)+1)
	for i, m := range window {
		if codeCtx != "" && i == len(window)-1 {
			out = append(out, llamaruntime.Message{Role: llamaruntime.RoleSystem, Content: codeCtx})
		}
		out = append(out, llamaruntime.Message{Role: m.Role, Content: m.Content})
	}
	return out
}
