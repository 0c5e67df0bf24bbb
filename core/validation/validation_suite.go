// Package validation runs the startup checks and prints a colored report.
package validation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"

	"ai_workspace/core"
)

// DefaultOpenAIBaseURL is probed when the image runtime is "openai" and no
// base URL is configured.
const DefaultOpenAIBaseURL = "https://api.openai.com/v1"

// ValidationStep represents a single validation step with its status.
type ValidationStep struct {
	Name    string
	Status  StepStatus
	Message string
	Error   error
	Latency time.Duration
}

// StepStatus represents the status of a validation step.
type StepStatus int

const (
	StepPending StepStatus = iota
	StepRunning
	StepPassed
	StepFailed
	StepWarning
	StepSkipped
)

// String returns the string representation of a step status.
func (s StepStatus) String() string {
	switch s {
	case StepPending:
		return "pending"
	case StepRunning:
		return "running"
	case StepPassed:
		return "passed"
	case StepFailed:
		return "failed"
	case StepWarning:
		return "warning"
	case StepSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// SuiteResult represents the complete result of validation suite execution.
type SuiteResult struct {
	Steps       []ValidationStep
	TotalSteps  int
	PassedSteps int
	FailedSteps int
	Warnings    int
	Duration    time.Duration
	Success     bool
}

// ValidationSuite is the startup validation organism. It checks the
// resolved configuration, the files the process will write and the remote
// inference endpoints. Only configuration and storage problems fail the
// suite; unreachable endpoints are warnings because runtimes load lazily.
type ValidationSuite struct {
	cfg          *core.Config
	configPath   string
	output       io.Writer
	connectivity *ConnectivityChecker
	minFreeBytes int64
	showProgress bool
	failFast     bool
}

// NewValidationSuite creates a suite for cfg. AI_WORKSPACE_MIN_FREE_DISK
// (e.g. "500MB") overrides the free space threshold.
func NewValidationSuite(cfg *core.Config) *ValidationSuite {
	return &ValidationSuite{
		cfg:          cfg,
		configPath:   core.GetEnvOrDefault(core.EnvKey("CONFIG"), core.DefaultConfigPath),
		output:       os.Stdout,
		connectivity: NewConnectivityChecker(),
		minFreeBytes: core.ParseBytesEnv(core.EnvKey("MIN_FREE_DISK"), DefaultMinFreeBytes),
		showProgress: true,
	}
}

// WithOutput sets the output writer for progress messages.
func (s *ValidationSuite) WithOutput(w io.Writer) *ValidationSuite {
	s.output = w
	return s
}

// WithConfigPath sets the YAML file reported by the configuration file step.
func (s *ValidationSuite) WithConfigPath(path string) *ValidationSuite {
	s.configPath = path
	return s
}

// WithTimeout sets the timeout for network checks.
func (s *ValidationSuite) WithTimeout(timeout time.Duration) *ValidationSuite {
	s.connectivity.WithTimeout(timeout)
	return s
}

// WithMinFreeBytes sets the free disk space below which a warning is shown.
func (s *ValidationSuite) WithMinFreeBytes(n int64) *ValidationSuite {
	s.minFreeBytes = n
	return s
}

// WithShowProgress enables or disables progress output.
func (s *ValidationSuite) WithShowProgress(show bool) *ValidationSuite {
	s.showProgress = show
	return s
}

// WithFailFast stops validation on first failure if enabled.
func (s *ValidationSuite) WithFailFast(failFast bool) *ValidationSuite {
	s.failFast = failFast
	return s
}

type check struct {
	name    string
	network bool
	run     func(ctx context.Context) (StepStatus, string, error)
}

func (s *ValidationSuite) checks() []check {
	return []check{
		{name: "Configuration", run: s.checkConfig},
		{name: "Configuration File", run: s.checkConfigFile},
		{name: "Log File", run: s.checkLogFile},
		{name: "Session Database", run: s.checkSessionDB},
		{name: "Disk Space", run: s.checkDiskSpace},
		{name: "Chat Endpoint", network: true, run: s.checkChatEndpoint},
		{name: "Image Endpoint", network: true, run: s.checkImageEndpoint},
	}
}

// Validate runs every check in sequence with progress output.
func (s *ValidationSuite) Validate(ctx context.Context) SuiteResult {
	return s.run(ctx, "AI Workspace Startup Validation", true)
}

// ValidateQuick runs only the local checks (no network calls).
func (s *ValidationSuite) ValidateQuick() SuiteResult {
	return s.run(context.Background(), "Quick Configuration Check", false)
}

func (s *ValidationSuite) run(ctx context.Context, title string, network bool) SuiteResult {
	start := time.Now()
	if s.showProgress {
		s.printHeader(title)
	}

	var steps []ValidationStep
	for _, c := range s.checks() {
		if c.network && !network {
			continue
		}
		var step ValidationStep
		if s.cfg == nil && c.name != "Configuration" {
			step = ValidationStep{Name: c.name, Status: StepSkipped, Message: "no configuration"}
			if s.showProgress {
				s.printStep(step)
			}
		} else {
			step = s.runStep(ctx, c.name, c.run)
		}
		steps = append(steps, step)
		if s.failFast && step.Status == StepFailed {
			break
		}
	}

	result := s.buildResult(steps, start)
	if s.showProgress {
		s.printSummary(result)
	}
	return result
}

func (s *ValidationSuite) checkConfig(context.Context) (StepStatus, string, error) {
	if err := core.ValidateConfig(s.cfg); err != nil {
		var joined interface{ Unwrap() []error }
		n := 1
		if errors.As(err, &joined) {
			n = len(joined.Unwrap())
		}
		return StepFailed, fmt.Sprintf("%d problem(s) found", n), err
	}
	return StepPassed, fmt.Sprintf("device=%s workers=%d", s.cfg.Device, s.cfg.Workers), nil
}

func (s *ValidationSuite) checkConfigFile(context.Context) (StepStatus, string, error) {
	if s.configPath == "" {
		return StepSkipped, "no configuration file", nil
	}
	if err := CheckFileExists(s.configPath); err != nil {
		return StepWarning, "not found, using defaults and environment", nil
	}
	return StepPassed, "loaded " + s.configPath, nil
}

func (s *ValidationSuite) checkLogFile(context.Context) (StepStatus, string, error) {
	if s.cfg.LogFile == "" {
		return StepSkipped, "console logging only", nil
	}
	if err := CheckWritableFile(s.cfg.LogFile); err != nil {
		return StepFailed, "log directory not writable", err
	}
	return StepPassed, s.cfg.LogFile, nil
}

func (s *ValidationSuite) checkSessionDB(context.Context) (StepStatus, string, error) {
	if s.cfg.SessionDBPath == "" {
		return StepSkipped, "sessions kept in memory", nil
	}
	if err := CheckWritableFile(s.cfg.SessionDBPath); err != nil {
		return StepFailed, "database directory not writable", err
	}
	return StepPassed, s.cfg.SessionDBPath, nil
}

func (s *ValidationSuite) checkDiskSpace(context.Context) (StepStatus, string, error) {
	path := "."
	switch {
	case s.cfg.EnableAutoSave && s.cfg.OutputDir != "":
		path = s.cfg.OutputPath()
	case s.cfg.SessionDBPath != "":
		path = filepath.Dir(s.cfg.SessionDBPath)
	case s.cfg.LogFile != "":
		path = filepath.Dir(s.cfg.LogFile)
	}
	info, err := GetDiskSpace(path)
	if err != nil {
		return StepWarning, "could not determine free space", err
	}
	msg := fmt.Sprintf("%s free (%.0f%% used)", core.FormatBytes(info.Free), info.UsedPercent)
	if info.Free < s.minFreeBytes {
		return StepWarning, msg, &DiskSpaceError{Path: info.Path, Required: s.minFreeBytes, Available: info.Free}
	}
	return StepPassed, msg, nil
}

func (s *ValidationSuite) checkChatEndpoint(ctx context.Context) (StepStatus, string, error) {
	if s.cfg.ChatBaseURL == "" {
		return StepSkipped, "no chat endpoint configured", nil
	}
	return s.probe(ctx, s.cfg.ChatBaseURL)
}

func (s *ValidationSuite) checkImageEndpoint(ctx context.Context) (StepStatus, string, error) {
	if s.cfg.ImageRuntime != "openai" {
		return StepSkipped, "local image runtime", nil
	}
	endpoint := s.cfg.ImageBaseURL
	if endpoint == "" {
		endpoint = DefaultOpenAIBaseURL
	}
	return s.probe(ctx, endpoint)
}

func (s *ValidationSuite) probe(ctx context.Context, endpoint string) (StepStatus, string, error) {
	r := s.connectivity.Check(ctx, endpoint)
	if !r.Reachable {
		return StepWarning, r.Message, r.Error
	}
	return StepPassed, fmt.Sprintf("%s %s (latency: %v)", endpoint, r.Message, r.Latency.Round(time.Millisecond)), nil
}

// runStep executes a validation step with timing and progress output.
func (s *ValidationSuite) runStep(ctx context.Context, name string, fn func(context.Context) (StepStatus, string, error)) ValidationStep {
	if s.showProgress {
		s.printStepStart(name)
	}
	start := time.Now()
	status, message, err := fn(ctx)
	step := ValidationStep{
		Name:    name,
		Status:  status,
		Message: message,
		Error:   err,
		Latency: time.Since(start),
	}
	if s.showProgress {
		s.printStep(step)
	}
	return step
}

// buildResult creates a SuiteResult from completed steps.
func (s *ValidationSuite) buildResult(steps []ValidationStep, startTime time.Time) SuiteResult {
	result := SuiteResult{
		Steps:      steps,
		TotalSteps: len(steps),
		Duration:   time.Since(startTime),
		Success:    true,
	}
	for _, step := range steps {
		switch step.Status {
		case StepPassed:
			result.PassedSteps++
		case StepFailed:
			result.FailedSteps++
			result.Success = false
		case StepWarning:
			result.Warnings++
		}
	}
	return result
}

func (s *ValidationSuite) printHeader(title string) {
	fmt.Fprintln(s.output)
	color.New(color.FgCyan, color.Bold).Fprintf(s.output, "━━━ %s ━━━\n", title)
	fmt.Fprintln(s.output)
}

func (s *ValidationSuite) printStepStart(name string) {
	fmt.Fprintf(s.output, "  ◌ %s...", name)
}

// printStep prints a completed validation step with status indicator.
func (s *ValidationSuite) printStep(step ValidationStep) {
	var icon string
	var clr *color.Color
	switch step.Status {
	case StepPassed:
		icon, clr = "✓", color.New(color.FgGreen)
	case StepFailed:
		icon, clr = "✗", color.New(color.FgRed)
	case StepWarning:
		icon, clr = "!", color.New(color.FgYellow)
	case StepSkipped:
		icon, clr = "○", color.New(color.FgHiBlack)
	default:
		icon, clr = "?", color.New(color.FgWhite)
	}

	fmt.Fprintf(s.output, "\r")
	clr.Fprintf(s.output, "  %s %s", icon, step.Name)
	if step.Message != "" {
		color.New(color.FgHiBlack).Fprintf(s.output, " - %s", step.Message)
	}
	fmt.Fprintln(s.output)

	if (step.Status == StepFailed || step.Status == StepWarning) && step.Error != nil {
		for _, line := range strings.Split(step.Error.Error(), "\n") {
			clr.Fprintf(s.output, "    └─ %s\n", line)
		}
	}
}

func (s *ValidationSuite) printSummary(result SuiteResult) {
	fmt.Fprintln(s.output)
	if result.Success {
		successColor := color.New(color.FgGreen, color.Bold)
		successColor.Fprintf(s.output, "━━━ Validation Passed ")
		color.New(color.FgHiBlack).Fprintf(s.output, "(%d/%d checks passed, %d warnings, in %v)",
			result.PassedSteps, result.TotalSteps, result.Warnings, result.Duration.Round(time.Millisecond))
		successColor.Fprintln(s.output, " ━━━")
	} else {
		failColor := color.New(color.FgRed, color.Bold)
		failColor.Fprintf(s.output, "━━━ Validation Failed ")
		color.New(color.FgHiBlack).Fprintf(s.output, "(%d passed, %d failed)",
			result.PassedSteps, result.FailedSteps)
		failColor.Fprintln(s.output, " ━━━")
	}
	fmt.Fprintln(s.output)
}

// GetErrors returns the errors of failed steps.
func (r SuiteResult) GetErrors() []error {
	var errs []error
	for _, step := range r.Steps {
		if step.Status == StepFailed && step.Error != nil {
			errs = append(errs, step.Error)
		}
	}
	return errs
}

// GetFirstError returns the first error from failed steps, or nil if all passed.
func (r SuiteResult) GetFirstError() error {
	if errs := r.GetErrors(); len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// Summary returns a human-readable summary string.
func (r SuiteResult) Summary() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Validation %s: ", map[bool]string{true: "Passed", false: "Failed"}[r.Success]))
	sb.WriteString(fmt.Sprintf("%d/%d checks passed", r.PassedSteps, r.TotalSteps))
	if r.FailedSteps > 0 {
		sb.WriteString(fmt.Sprintf(", %d failed", r.FailedSteps))
	}
	if r.Warnings > 0 {
		sb.WriteString(fmt.Sprintf(", %d warnings", r.Warnings))
	}
	sb.WriteString(fmt.Sprintf(" (took %v)", r.Duration.Round(time.Millisecond)))
	return sb.String()
}
