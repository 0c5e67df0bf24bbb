package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ai_workspace/core"
	"ai_workspace/logging"
)

// Persister stores sessions durably. Save writes the full session,
// replacing any previous messages.
type Persister interface {
	Save(ctx context.Context, s Session) error
	Delete(ctx context.Context, id string) error
	LoadAll(ctx context.Context) ([]Session, error)
}

// Config configures a Store.
type Config struct {
	// SystemPrompt seeds every new session
	SystemPrompt string
	// MaxHistory bounds messages per session; oldest non-system messages go first
	MaxHistory int
	// Defaults are copied into each new session
	Defaults Settings
}

// DefaultConfig returns the built-in system prompt, a history bound of 100
// and the default sampling settings.
func DefaultConfig() Config {
	return Config{
		SystemPrompt: core.DefaultSystemPrompt,
		MaxHistory:   100,
		Defaults:     Settings{Temperature: 0.7, MaxTokens: 2048, TopP: 0.9},
	}
}

// ConfigFromCore maps the chat settings of cfg.
func ConfigFromCore(cfg *core.Config) Config {
	return Config{
		SystemPrompt: cfg.ChatSystemPrompt,
		MaxHistory:   cfg.MaxChatHistory,
		Defaults: Settings{
			Temperature: cfg.ChatTemperature,
			MaxTokens:   cfg.ChatMaxTokens,
			TopP:        cfg.ChatTopP,
		},
	}
}

// entry serializes mutations of one session.
type entry struct {
	mu      sync.Mutex
	s       Session
	deleted bool
}

// Store is an in-memory session registry with optional write-through.
// The map has its own lock, so work on one session never blocks another.
type Store struct {
	config    Config
	persister Persister
	logger    *zap.Logger
	onChange  func(n int)

	mu       sync.RWMutex
	sessions map[string]*entry
}

// Option configures a Store.
type Option func(*Store)

// WithPersister enables write-through to p.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithCountHook is called with the session count after create and delete.
func WithCountHook(fn func(n int)) Option {
	return func(s *Store) { s.onChange = fn }
}

// NewStore creates a store.
func NewStore(config Config, opts ...Option) *Store {
	if config.MaxHistory < 2 {
		config.MaxHistory = DefaultConfig().MaxHistory
	}
	if config.SystemPrompt == "" {
		config.SystemPrompt = core.DefaultSystemPrompt
	}
	s := &Store{
		config:   config,
		logger:   zap.NewNop(),
		sessions: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("session")
	return s
}

// Load restores persisted sessions. It is a no-op without a persister.
func (s *Store) Load(ctx context.Context) (int, error) {
	if s.persister == nil {
		return 0, nil
	}
	loaded, err := s.persister.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load sessions: %w", err)
	}
	s.mu.Lock()
	for _, sess := range loaded {
		s.sessions[sess.ID] = &entry{s: sess}
	}
	n := len(s.sessions)
	s.mu.Unlock()

	s.logger.Info("sessions restored", zap.Int("count", len(loaded)))
	s.notify(n)
	return len(loaded), nil
}

// Create starts a session for model seeded with the system prompt.
func (s *Store) Create(ctx context.Context, model string) (Session, error) {
	now := time.Now()
	sess := Session{
		ID:           uuid.NewString(),
		Model:        model,
		Messages:     []Message{{Role: RoleSystem, Content: s.config.SystemPrompt, Timestamp: now}},
		Settings:     s.config.Defaults,
		CreatedAt:    now,
		LastActivity: now,
	}
	if s.persister != nil {
		if err := s.persister.Save(ctx, sess); err != nil {
			return Session{}, fmt.Errorf("failed to persist session: %w", err)
		}
	}

	s.mu.Lock()
	s.sessions[sess.ID] = &entry{s: sess}
	n := len(s.sessions)
	s.mu.Unlock()

	s.logger.Info("session created", logging.SessionID(sess.ID), logging.ModelID(model))
	s.notify(n)
	return sess.clone(), nil
}

// Get returns a snapshot of the session.
func (s *Store) Get(ctx context.Context, id string) (Session, error) {
	e, err := s.lookup(id)
	if err != nil {
		return Session{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s.clone(), nil
}

// Append adds msg, dropping the oldest non-system messages past MaxHistory.
// If persisting fails the session is left unchanged.
func (s *Store) Append(ctx context.Context, id string, msg Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return s.mutate(ctx, id, func(sess *Session) {
		sess.Messages = append(sess.Messages, msg)
		sess.Messages = trimHistory(sess.Messages, s.config.MaxHistory)
		sess.LastActivity = msg.Timestamp
	})
}

// Clear keeps only the system messages.
func (s *Store) Clear(ctx context.Context, id string) error {
	return s.mutate(ctx, id, func(sess *Session) {
		kept := make([]Message, 0, 1)
		for _, m := range sess.Messages {
			if m.Role == RoleSystem {
				kept = append(kept, m)
			}
		}
		sess.Messages = kept
		sess.LastActivity = time.Now()
	})
}

// UpdateSettings replaces the session's sampling settings.
func (s *Store) UpdateSettings(ctx context.Context, id string, settings Settings) error {
	return s.mutate(ctx, id, func(sess *Session) {
		sess.Settings = settings
	})
}

// Delete removes the session.
func (s *Store) Delete(ctx context.Context, id string) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return &core.SessionNotFoundError{ID: id}
	}

	if s.persister != nil {
		if err := s.persister.Delete(ctx, id); err != nil {
			return fmt.Errorf("failed to delete persisted session: %w", err)
		}
	}
	e.deleted = true
	s.mu.Lock()
	delete(s.sessions, id)
	n := len(s.sessions)
	s.mu.Unlock()

	s.logger.Info("session deleted", logging.SessionID(id))
	s.notify(n)
	return nil
}

// List returns snapshots of every session, most recently active first.
func (s *Store) List(ctx context.Context) []Session {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]Session, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.s.clone())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out
}

// Len returns the number of sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) lookup(id string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, &core.SessionNotFoundError{ID: id}
	}
	return e, nil
}

// mutate applies fn under the session lock and writes through. On persist
// failure the previous state is restored.
func (s *Store) mutate(ctx context.Context, id string, fn func(*Session)) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return &core.SessionNotFoundError{ID: id}
	}

	prev := e.s.clone()
	fn(&e.s)
	if s.persister != nil {
		if err := s.persister.Save(ctx, e.s); err != nil {
			e.s = prev
			s.logger.Warn("session persist failed", logging.SessionID(id), zap.Error(err))
			return fmt.Errorf("failed to persist session: %w", err)
		}
	}
	return nil
}

func (s *Store) notify(n int) {
	if s.onChange != nil {
		s.onChange(n)
	}
}

// trimHistory drops the oldest non-system messages until len <= limit.
func trimHistory(msgs []Message, limit int) []Message {
	excess := len(msgs) - limit
	if excess <= 0 {
		return msgs
	}
	out := make([]Message, 0, limit)
	for _, m := range msgs {
		if excess > 0 && m.Role != RoleSystem {
			excess--
			continue
		}
		out = append(out, m)
	}
	return out
}
