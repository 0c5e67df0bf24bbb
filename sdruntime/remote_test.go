package sdruntime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"testing"

	"ai_workspace/core"
)

func TestRemoteModel_Generate(t *testing.T) {
	pngBytes, err := EncodePNG(image.NewRGBA(image.Rect(0, 0, 8, 8)))
	if err != nil {
		t.Fatalf("EncodePNG() error = %v", err)
	}

	var gotReq map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/images/generations" {
			t.Errorf("path = %s, want /v1/images/generations", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"created": 1,
			"data": []map[string]string{
				{"b64_json": base64.StdEncoding.EncodeToString(pngBytes)},
			},
		})
	}))
	defer srv.Close()

	m, err := NewRemoteModel(RemoteConfig{APIKey: "test", BaseURL: srv.URL + "/v1"}, "sd-remote", "cpu")
	if err != nil {
		t.Fatalf("NewRemoteModel() error = %v", err)
	}

	var lastStep int
	res, err := m.Generate(context.Background(), smallParams(9), func(step, _ int) { lastStep = step })
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(res.Images) != 1 || res.Seed != 9 {
		t.Errorf("result = %d images seed %d, want 1 image seed 9", len(res.Images), res.Seed)
	}
	if lastStep != 5 {
		t.Errorf("last step = %d, want 5", lastStep)
	}
	if gotReq["size"] != "128x128" || gotReq["model"] != "sd-remote" {
		t.Errorf("request = %v", gotReq)
	}
}

func TestRemoteModel_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"backend down","type":"server_error"}}`))
	}))
	defer srv.Close()

	m, err := NewRemoteModel(RemoteConfig{APIKey: "test", BaseURL: srv.URL + "/v1"}, "sd-remote", "cpu")
	if err != nil {
		t.Fatalf("NewRemoteModel() error = %v", err)
	}
	if _, err := m.Generate(context.Background(), smallParams(1), nil); !errors.Is(err, ErrGenerationFailed) {
		t.Errorf("Generate() error = %v, want ErrGenerationFailed", err)
	}
}

func TestRemoteModel_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		message string
		want    error
	}{
		{"bad request", http.StatusBadRequest, "size not supported", ErrInvalidParams},
		{"unknown model", http.StatusNotFound, "no such model", ErrModelNotFound},
		{"insufficient storage", http.StatusInsufficientStorage, "busy", ErrOutOfVRAM},
		{"cuda oom", http.StatusInternalServerError, "CUDA out of memory. Tried to allocate 2.00 GiB", ErrOutOfVRAM},
		{"oom text on client error", http.StatusBadRequest, "out of memory", ErrInvalidParams},
		{"server error", http.StatusBadGateway, "upstream down", ErrGenerationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]string{"message": tt.message, "type": "server_error"},
				})
			}))
			defer srv.Close()

			m, err := NewRemoteModel(RemoteConfig{APIKey: "test", BaseURL: srv.URL + "/v1"}, "sd-remote", "cpu")
			if err != nil {
				t.Fatalf("NewRemoteModel() error = %v", err)
			}
			_, err = m.Generate(context.Background(), smallParams(1), nil)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Generate() error = %v, want %v", err, tt.want)
			}
			if oom := errors.Is(err, core.ErrOutOfMemory); oom != (tt.want == ErrOutOfVRAM) {
				t.Errorf("errors.Is(err, core.ErrOutOfMemory) = %v", oom)
			}
		})
	}
}

func TestNewRemoteModel_RequiresKey(t *testing.T) {
	if _, err := NewRemoteModel(RemoteConfig{}, "m", "cpu"); !errors.Is(err, ErrModelLoadFailed) {
		t.Errorf("NewRemoteModel() error = %v, want ErrModelLoadFailed", err)
	}
}

func TestRemoteModel_BadImagePayload(t *testing.T) {
	small, err := EncodePNG(image.NewRGBA(image.Rect(0, 0, 8, 8)))
	if err != nil {
		t.Fatal(err)
	}
	wide, err := EncodePNG(image.NewRGBA(image.Rect(0, 0, 16, 8)))
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name   string
		images [][]byte
	}{
		{"not a png", [][]byte{[]byte("GIF89a not really")}},
		{"truncated png", [][]byte{small[:12]}},
		{"mixed sizes", [][]byte{small, wide}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var data []map[string]string
				for _, img := range tt.images {
					data = append(data, map[string]string{"b64_json": base64.StdEncoding.EncodeToString(img)})
				}
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(map[string]any{"created": 1, "data": data})
			}))
			defer srv.Close()

			m, err := NewRemoteModel(RemoteConfig{APIKey: "test", BaseURL: srv.URL + "/v1"}, "sd-remote", "cpu")
			if err != nil {
				t.Fatalf("NewRemoteModel() error = %v", err)
			}
			params := smallParams(1)
			params.BatchSize = len(tt.images)
			if _, err := m.Generate(context.Background(), params, nil); !errors.Is(err, ErrGenerationFailed) {
				t.Errorf("Generate() error = %v, want ErrGenerationFailed", err)
			}
		})
	}
}

func TestPNGHelpers(t *testing.T) {
	data, err := EncodePNG(image.NewGray(image.Rect(0, 0, 10, 6)))
	if err != nil {
		t.Fatalf("EncodePNG() error = %v", err)
	}
	if size, err := pngSize(data); err != nil || size != image.Pt(10, 6) {
		t.Errorf("pngSize() = %v, %v, want (10,6)", size, err)
	}
	if _, err := pngSize(nil); !errors.Is(err, ErrImageNotPNG) {
		t.Errorf("pngSize(nil) = %v, want ErrImageNotPNG", err)
	}
	if _, err := EncodePNG(image.NewRGBA(image.Rectangle{})); !errors.Is(err, ErrImageInvalidSize) {
		t.Errorf("EncodePNG(empty) = %v, want ErrImageInvalidSize", err)
	}
	if got := PNGDataURL([]byte{1}); got != "data:image/png;base64,AQ==" {
		t.Errorf("PNGDataURL() = %q", got)
	}
}
