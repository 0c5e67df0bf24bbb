package validation

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ai_workspace/core"
)

func testConfig(t *testing.T, chatURL string) *core.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := core.DefaultConfig()
	cfg.LogFile = filepath.Join(dir, "logs", "ai_workspace.log")
	cfg.SessionDBPath = filepath.Join(dir, "data", "sessions.db")
	cfg.WorkspaceRoot = filepath.Join(dir, "workspace")
	cfg.ChatBaseURL = chatURL
	return cfg
}

func statusOf(r SuiteResult, name string) StepStatus {
	for _, s := range r.Steps {
		if s.Name == name {
			return s.Status
		}
	}
	return StepPending
}

func TestValidationSuite_AllPassing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	cfgFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgFile, []byte("device: cpu\n"), 0644); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	result := NewValidationSuite(testConfig(t, server.URL)).
		WithOutput(&buf).
		WithConfigPath(cfgFile).
		WithMinFreeBytes(1).
		WithTimeout(2 * time.Second).
		Validate(context.Background())

	if !result.Success {
		t.Fatalf("Validate() failed: %s\n%s", result.Summary(), buf.String())
	}
	want := map[string]StepStatus{
		"Configuration":      StepPassed,
		"Configuration File": StepPassed,
		"Log File":           StepPassed,
		"Session Database":   StepPassed,
		"Disk Space":         StepPassed,
		"Chat Endpoint":      StepPassed,
		"Image Endpoint":     StepSkipped,
	}
	for name, status := range want {
		if got := statusOf(result, name); got != status {
			t.Errorf("step %q = %v, want %v", name, got, status)
		}
	}
	if !strings.Contains(buf.String(), "Validation Passed") {
		t.Errorf("output missing summary:\n%s", buf.String())
	}
}

func TestValidationSuite_InvalidConfigFails(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.Workers = 0
	cfg.Device = "tpu"

	result := NewValidationSuite(cfg).WithShowProgress(false).ValidateQuick()
	if result.Success {
		t.Fatal("ValidateQuick() succeeded with invalid config")
	}
	if got := statusOf(result, "Configuration"); got != StepFailed {
		t.Errorf("Configuration = %v, want failed", got)
	}
	if code := core.GetErrorCode(result.GetFirstError()); code == "" {
		t.Errorf("first error %v is not a ConfigError", result.GetFirstError())
	}
	if !strings.Contains(result.Steps[0].Message, "2 problem") {
		t.Errorf("message = %q, want problem count", result.Steps[0].Message)
	}
}

func TestValidationSuite_UnreachableEndpointWarns(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1/v1")
	result := NewValidationSuite(cfg).
		WithShowProgress(false).
		WithConfigPath("").
		WithTimeout(time.Second).
		Validate(context.Background())

	if !result.Success {
		t.Fatalf("unreachable endpoint should not fail: %s", result.Summary())
	}
	if got := statusOf(result, "Chat Endpoint"); got != StepWarning {
		t.Errorf("Chat Endpoint = %v, want warning", got)
	}
	if result.Warnings == 0 {
		t.Error("Warnings = 0")
	}
}

func TestValidationSuite_QuickSkipsNetwork(t *testing.T) {
	result := NewValidationSuite(testConfig(t, "http://127.0.0.1:1")).WithShowProgress(false).ValidateQuick()
	for _, s := range result.Steps {
		if strings.HasSuffix(s.Name, "Endpoint") {
			t.Errorf("ValidateQuick() ran network step %q", s.Name)
		}
	}
}

func TestValidationSuite_FailFast(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.Workers = 0
	result := NewValidationSuite(cfg).WithShowProgress(false).WithFailFast(true).ValidateQuick()
	if result.TotalSteps != 1 {
		t.Errorf("TotalSteps = %d, want 1 with fail-fast", result.TotalSteps)
	}
}

func TestValidationSuite_InMemorySessions(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.SessionDBPath = ""
	result := NewValidationSuite(cfg).WithShowProgress(false).ValidateQuick()
	if got := statusOf(result, "Session Database"); got != StepSkipped {
		t.Errorf("Session Database = %v, want skipped", got)
	}
}

func TestStepStatus_String(t *testing.T) {
	tests := []struct {
		status StepStatus
		want   string
	}{
		{StepPending, "pending"},
		{StepPassed, "passed"},
		{StepFailed, "failed"},
		{StepWarning, "warning"},
		{StepSkipped, "skipped"},
		{StepStatus(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("StepStatus(%d).String() = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestSuiteResult_Summary(t *testing.T) {
	r := SuiteResult{TotalSteps: 3, PassedSteps: 2, FailedSteps: 1, Warnings: 1}
	got := r.Summary()
	for _, want := range []string{"Failed", "2/3 checks passed", "1 failed", "1 warnings"} {
		if !strings.Contains(got, want) {
			t.Errorf("Summary() = %q, missing %q", got, want)
		}
	}
}
