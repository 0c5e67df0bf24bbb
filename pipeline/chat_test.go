package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ai_workspace/core"
	"ai_workspace/session"
)

func newChat(t *testing.T, h *harness, cfg ChatConfig) (*ChatPipeline, *session.Store, session.Session) {
	t.Helper()
	store := session.NewStore(session.DefaultConfig())
	sess, err := store.Create(context.Background(), "llama")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return NewChatPipeline(h.runner, h.models, store, cfg), store, sess
}

func TestChatPipeline_Success(t *testing.T) {
	h := newHarness(t, DefaultPoolConfig(), DefaultEventBuffer)
	p, store, sess := newChat(t, h, DefaultChatConfig())

	stream, err := p.Run(context.Background(), ChatRequest{
		SessionID:   sess.ID,
		Message:     "hi",
		CodeContext: &CodeContext{FilePath: "main.go", Language: "go", Content: "package main"},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	events := Collect(stream)
	result := wantComplete(t, singleTerminalLast(t, events))

	if got, want := statuses(events), []string{StatusThinking, StatusGenerating, StatusComplete}; !equalStrings(got, want) {
		t.Errorf("statuses = %v, want %v", got, want)
	}
	if result.Reply != "Hello there" {
		t.Errorf("Reply = %q, want %q", result.Reply, "Hello there")
	}

	got, _ := store.Get(context.Background(), sess.ID)
	if len(got.Messages) != 3 {
		t.Fatalf("session has %d messages, want 3", len(got.Messages))
	}
	if got.Messages[1].Role != session.RoleUser || got.Messages[1].Metadata["code_context"] != "main.go" {
		t.Errorf("user message = %+v", got.Messages[1])
	}
	if got.Messages[2].Role != session.RoleAssistant {
		t.Errorf("last role = %q, want assistant", got.Messages[2].Role)
	}

	msgs := h.chat.last.Messages
	if len(msgs) != 3 {
		t.Fatalf("sent %d messages, want system prompt, code context, user", len(msgs))
	}
	if !strings.Contains(msgs[1].Content, "File: main.go | Language: go") {
		t.Errorf("code context message = %q", msgs[1].Content)
	}
	if msgs[2].Content != "hi" {
		t.Errorf("user message = %q, want hi", msgs[2].Content)
	}
}

func TestChatPipeline_UnknownSession(t *testing.T) {
	h := newHarness(t, DefaultPoolConfig(), DefaultEventBuffer)
	p, _, _ := newChat(t, h, DefaultChatConfig())

	stream, err := p.Run(context.Background(), ChatRequest{SessionID: "missing", Message: "hi"})
	if stream != nil {
		t.Error("stream returned for an unknown session")
	}
	if !core.IsSessionNotFound(err) {
		t.Errorf("Run() error = %v, want SessionNotFound", err)
	}
	if n := h.chat.callCount(); n != 0 {
		t.Errorf("runtime called %d times, want 0", n)
	}
}

func TestChatPipeline_FailureKeepsOnlyUserMessage(t *testing.T) {
	h := newHarness(t, DefaultPoolConfig(), DefaultEventBuffer)
	h.chat.err = errors.New("server went away")
	p, store, sess := newChat(t, h, DefaultChatConfig())

	stream, err := p.Run(context.Background(), ChatRequest{SessionID: sess.ID, Message: "hello?"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if last := singleTerminalLast(t, Collect(stream)); last.Status != StatusError {
		t.Errorf("status = %q, want error", last.Status)
	}

	got, _ := store.Get(context.Background(), sess.ID)
	if len(got.Messages) != 2 {
		t.Fatalf("session has %d messages, want 2", len(got.Messages))
	}
	if m := got.Messages[1]; m.Role != session.RoleUser || m.Content != "hello?" {
		t.Errorf("kept message = %+v, want the user turn", m)
	}
}

func TestChatPipeline_HistoryWindow(t *testing.T) {
	h := newHarness(t, DefaultPoolConfig(), DefaultEventBuffer)
	p, store, sess := newChat(t, h, DefaultChatConfig())
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		if err := store.Append(ctx, sess.ID, session.NewMessage(session.RoleUser, "old")); err != nil {
			t.Fatal(err)
		}
	}

	stream, err := p.Run(ctx, ChatRequest{SessionID: sess.ID, Message: "newest"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	wantComplete(t, Wait(stream))

	msgs := h.chat.last.Messages
	if len(msgs) != 10 {
		t.Fatalf("sent %d messages, want 10", len(msgs))
	}
	if msgs[9].Content != "newest" {
		t.Errorf("last message = %q, want newest", msgs[9].Content)
	}
}

func writeWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string][]byte{
		"main.go":       []byte("package main\n"),
		"blob.bin":      {0xff, 0xfe, 0xfd},
		"src/app/ui.ts": []byte("export const x = 1\n"),
	}
	for name, data := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestChatPipeline_CodeContextFromWorkspace(t *testing.T) {
	h := newHarness(t, DefaultPoolConfig(), DefaultEventBuffer)
	cfg := DefaultChatConfig()
	cfg.Files = DirReader{Root: writeWorkspace(t)}
	p, _, sess := newChat(t, h, cfg)

	stream, err := p.Run(context.Background(), ChatRequest{
		SessionID:   sess.ID,
		Message:     "explain",
		CodeContext: &CodeContext{FilePath: "src/app/ui.ts", Selection: "x"},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	wantComplete(t, Wait(stream))

	ctxMsg := h.chat.last.Messages[1].Content
	for _, want := range []string{"File: src/app/ui.ts", "Language: typescript", "Selected: x", "export const x = 1"} {
		if !strings.Contains(ctxMsg, want) {
			t.Errorf("code context %q missing %q", ctxMsg, want)
		}
	}
}

func TestChatPipeline_CodeContextErrors(t *testing.T) {
	h := newHarness(t, DefaultPoolConfig(), DefaultEventBuffer)
	cfg := DefaultChatConfig()
	cfg.Files = DirReader{Root: writeWorkspace(t)}
	p, _, sess := newChat(t, h, cfg)
	noFiles, _, noFilesSess := newChat(t, h, DefaultChatConfig())

	tests := []struct {
		name string
		p    *ChatPipeline
		id   string
		path string
	}{
		{"missing file", p, sess.ID, "nope.go"},
		{"not text", p, sess.ID, "blob.bin"},
		{"directory", p, sess.ID, "src"},
		{"no file access", noFiles, noFilesSess.ID, "main.go"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream, err := tt.p.Run(context.Background(), ChatRequest{
				SessionID:   tt.id,
				Message:     "hi",
				CodeContext: &CodeContext{FilePath: tt.path},
			})
			if stream != nil {
				t.Error("stream returned for an unreadable code context")
			}
			if !core.IsInvalidRequest(err) {
				t.Errorf("Run() error = %v, want InvalidRequest", err)
			}
		})
	}
	if n := h.chat.callCount(); n != 0 {
		t.Errorf("runtime called %d times, want 0", n)
	}
}

func TestCodeContext_Format(t *testing.T) {
	cc := CodeContext{FilePath: "a.py", Language: "python", Selection: "def f", Content: "def f(): pass"}
	want := "Context: File: a.py | Language: python | Selected: def f\nCode:\n```python\ndef f(): pass\n```"
	if got := cc.Format(); got != want {
		t.Errorf("Format() = %q, want %q", got, want)
	}
	if got := (CodeContext{}).Format(); got != "" {
		t.Errorf("empty Format() = %q, want empty", got)
	}
}

func TestDirReader(t *testing.T) {
	dir := writeWorkspace(t)
	outside := filepath.Join(filepath.Dir(dir), "outside.txt")
	if err := os.WriteFile(outside, []byte("secret"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(outside, filepath.Join(dir, "escape.txt")); err != nil {
		t.Fatal(err)
	}
	reader := DirReader{Root: dir}

	got, err := CodeContextFromFile(reader, "main.go")
	if err != nil {
		t.Fatalf("CodeContextFromFile(main.go) error = %v", err)
	}
	if got.Language != "go" || got.Content != "package main\n" {
		t.Errorf("context = %+v", got)
	}

	tests := []struct {
		path string
		want error
	}{
		{"missing.go", ErrFileNotFound},
		{"blob.bin", ErrFileDecode},
		{"../../etc/passwd", ErrFileNotFound},
		{"/etc/passwd", ErrFileNotFound},
		{"escape.txt", ErrFileNotFound},
		{"src", ErrFileNotFound},
		{"", ErrFileNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if _, err := CodeContextFromFile(reader, tt.path); !errors.Is(err, tt.want) {
				t.Errorf("CodeContextFromFile(%q) error = %v, want %v", tt.path, err, tt.want)
			}
		})
	}
}

func TestDirReader_TooLarge(t *testing.T) {
	dir := t.TempDir()
	big := make([]byte, MaxContextFileSize+1)
	for i := range big {
		big[i] = 'a'
	}
	if err := os.WriteFile(filepath.Join(dir, "big.txt"), big, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := (DirReader{Root: dir}).ReadFile("big.txt"); !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("ReadFile() error = %v, want ErrFileTooLarge", err)
	}
}
