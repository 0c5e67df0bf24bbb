package validation

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestConnectivityChecker_Check(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("Expected HEAD request, got %s", r.Method)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	tests := []struct {
		name        string
		endpoint    string
		wantReach   bool
		wantMessage string
	}{
		{name: "reachable", endpoint: server.URL, wantReach: true},
		{name: "no scheme", endpoint: "not-a-valid-url", wantMessage: "Invalid URL format"},
		{name: "empty", endpoint: "", wantMessage: "Invalid URL format"},
		{name: "unreachable", endpoint: "http://127.0.0.1:1", wantMessage: "Connection failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewConnectivityChecker().WithTimeout(2 * time.Second)
			result := c.Check(context.Background(), tt.endpoint)

			if result.Reachable != tt.wantReach {
				t.Errorf("Check() Reachable = %v, want %v", result.Reachable, tt.wantReach)
			}
			if tt.wantMessage != "" && result.Message != tt.wantMessage {
				t.Errorf("Check() Message = %q, want %q", result.Message, tt.wantMessage)
			}
			if !tt.wantReach && result.Error == nil {
				t.Error("Check() expected error for unreachable endpoint")
			}
		})
	}
}

func TestConnectivityChecker_AnyStatusIsReachable(t *testing.T) {
	for _, code := range []int{http.StatusOK, http.StatusUnauthorized, http.StatusNotFound, http.StatusInternalServerError} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))
		result := NewConnectivityChecker().Check(context.Background(), server.URL)
		server.Close()

		if !result.Reachable {
			t.Errorf("status %d: Reachable = false, want true", code)
		}
		if result.StatusCode != code {
			t.Errorf("StatusCode = %d, want %d", result.StatusCode, code)
		}
	}
}

func TestConnectivityChecker_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	result := NewConnectivityChecker().WithTimeout(100*time.Millisecond).Check(context.Background(), server.URL)
	if result.Reachable {
		t.Error("Expected timeout to make endpoint appear unreachable")
	}
	if result.Message != "Connection timed out" {
		t.Errorf("Message = %q, want timeout message", result.Message)
	}
	if !errors.Is(result.Error, ErrUnreachable) {
		t.Errorf("Error = %v, want ErrUnreachable", result.Error)
	}
}

func TestValidateEndpointURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"http://localhost:8080/v1", false},
		{"https://api.openai.com/v1", false},
		{"  https://example.com  ", false},
		{"ftp://example.com", true},
		{"http://", true},
		{"", true},
	}
	for _, tt := range tests {
		if err := ValidateEndpointURL(tt.url); (err != nil) != tt.wantErr {
			t.Errorf("ValidateEndpointURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
		}
	}
}
