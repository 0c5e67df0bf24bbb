package webui

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ai_workspace/core"
	"ai_workspace/pipeline"
)

func TestGenerate(t *testing.T) {
	_, ts := newTestServer(t, unlimited())

	seed := int64(7)
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/generate", imagePayload{
		Prompt: "a lighthouse", Width: 128, Height: 128, Steps: 2, GuidanceScale: 6, Seed: &seed, BatchSize: 2,
	})
	wantStatus(t, resp, http.StatusOK)
	got := decode[GenerateResponse](t, resp)

	if !got.Success || got.RequestID == "" {
		t.Errorf("success = %v, request_id = %q", got.Success, got.RequestID)
	}
	if len(got.Images) != 2 {
		t.Fatalf("images = %d, want 2", len(got.Images))
	}
	if g, _ := got.Metadata["guidance"].(float64); g != 6 {
		t.Errorf("metadata guidance = %v, want 6 from guidance_scale", got.Metadata["guidance"])
	}

	img := got.Images[0]
	if !strings.HasPrefix(img.Data, "data:image/png;base64,") {
		t.Errorf("data = %.40q, want a PNG data URL", img.Data)
	}
	if img.Filename == "" || img.URL != "/api/outputs/"+img.Filename {
		t.Fatalf("filename = %q, url = %q", img.Filename, img.URL)
	}

	file := doJSON(t, http.MethodGet, ts.URL+img.URL, nil)
	wantStatus(t, file, http.StatusOK)
	if ct := file.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", ct)
	}
	body, err := io.ReadAll(file.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(body, []byte("\x89PNG")) {
		t.Error("served file is not a PNG")
	}
}

func TestGenerate_Errors(t *testing.T) {
	_, ts := newTestServer(t, unlimited())

	tests := []struct {
		name string
		body any
	}{
		{"empty prompt", imagePayload{Prompt: " "}},
		{"bad size", imagePayload{Prompt: "x", Width: 100, Height: 100}},
		{"unknown field", map[string]any{"prompt": "x", "sampler": "euler"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, http.MethodPost, ts.URL+"/api/generate", tt.body)
			wantStatus(t, resp, http.StatusBadRequest)
			if got := decode[ErrorResponse](t, resp).Code; got != "invalid_request" {
				t.Errorf("code = %q, want invalid_request", got)
			}
		})
	}
}

func TestGenerate_AutoSaveDisabled(t *testing.T) {
	engine := newTestEngine(t, func(c *core.Config) { c.EnableAutoSave = false })
	_, ts := newTestServerWith(t, engine, unlimited())

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/generate", imagePayload{Prompt: "x", Width: 128, Height: 128, Steps: 1})
	wantStatus(t, resp, http.StatusOK)
	got := decode[GenerateResponse](t, resp)
	if len(got.Images) != 1 {
		t.Fatalf("images = %d, want 1", len(got.Images))
	}
	if got.Images[0].Filename != "" || got.Images[0].URL != "" {
		t.Errorf("image = %+v, want no file without auto-save", got.Images[0])
	}
	if got.Images[0].Data == "" {
		t.Error("inline data missing")
	}
}

func TestOutputs_Rejects(t *testing.T) {
	engine := newTestEngine(t)
	_, ts := newTestServerWith(t, engine, unlimited())

	dir := engine.Outputs().Dir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	secret := filepath.Join(filepath.Dir(dir), "secret.txt")
	if err := os.WriteFile(secret, []byte("secret"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
		want int
	}{
		{"missing", "/api/outputs/generated_none.png", http.StatusNotFound},
		{"encoded traversal", "/api/outputs/..%2Fsecret.txt", http.StatusBadRequest},
		{"encoded backslash", "/api/outputs/..%5Csecret.txt", http.StatusBadRequest},
		{"hidden", "/api/outputs/.secret", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, http.MethodGet, ts.URL+tt.path, nil)
			wantStatus(t, resp, tt.want)
		})
	}
}

func TestFeatureToggles(t *testing.T) {
	config := unlimited()
	config.EnableChat = false
	config.Enable3D = false
	_, ts := newTestServer(t, config)
	conn := dial(t, ts)

	gray := pngBase64(t, flatGray(8, 8, 10))
	tests := []struct {
		action  string
		payload any
	}{
		{ActionChat, chatPayload{SessionID: "x", Message: "hi"}},
		{ActionDepth, depthPayload{Image: gray}},
		{ActionSegment, segmentPayload{Image: gray}},
		{ActionNormal, normalPayload{Depth: gray}},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			send(t, conn, tt.action, tt.action, tt.payload)
			msgs := readUntilTerminal(t, conn, tt.action)
			if len(msgs) != 1 || msgs[0].Code != "invalid_request" || !strings.Contains(msgs[0].Error, "disabled") {
				t.Errorf("messages = %+v, want a single disabled error", msgs)
			}
		})
	}

	wantStatus(t, doJSON(t, http.MethodGet, ts.URL+"/api/sessions", nil), http.StatusNotFound)

	seed := int64(1)
	send(t, conn, "img", ActionImage, imagePayload{Prompt: "x", Width: 128, Height: 128, Steps: 1, Seed: &seed})
	wantComplete(t, readUntilTerminal(t, conn, "img"))
}

func TestWebSocket_ChatFileContext(t *testing.T) {
	engine := newTestEngine(t)
	cfg := engine.Config()
	if err := os.WriteFile(filepath.Join(cfg.WorkspacePath(), "main.go"), []byte("package main\n\nfunc main() {}\n"), 0644); err != nil {
		t.Fatal(err)
	}
	srv, ts := newTestServerWith(t, engine, unlimited())
	sess, err := srv.engine.Sessions().Create(context.Background(), "tiny-llama")
	if err != nil {
		t.Fatal(err)
	}
	conn := dial(t, ts)

	send(t, conn, "ctx", ActionChat, chatPayload{
		SessionID:   sess.ID,
		Message:     "what does this do?",
		CodeContext: &pipeline.CodeContext{FilePath: "main.go"},
	})
	reply := wantComplete(t, readUntilTerminal(t, conn, "ctx")).Result.Reply
	for _, want := range []string{"echo: what does this do?", "File: main.go", "Language: go", "func main() {}"} {
		if !strings.Contains(reply, want) {
			t.Errorf("reply %q missing %q", reply, want)
		}
	}

	for _, path := range []string{"missing.go", "../outside.go"} {
		send(t, conn, path, ActionChat, chatPayload{
			SessionID:   sess.ID,
			Message:     "hi",
			CodeContext: &pipeline.CodeContext{FilePath: path},
		})
		msgs := readUntilTerminal(t, conn, path)
		if len(msgs) != 1 || msgs[0].Code != "invalid_request" {
			t.Errorf("%s: messages = %+v, want a single invalid_request", path, msgs)
		}
	}
}
