// Package backend decides which compute backend each engine runs on and
// defines the contract runtimes implement so the model cache can load them.
//
// Hardware is probed once per process. Selection is a pure function of the
// probed profile, the configured preference and the enable toggles, so the
// result is deterministic and never fails: CPU is always available.
package backend

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"ai_workspace/core"
)

// HardwareProfile describes the accelerators available to this process.
// It is computed once and never mutated afterwards.
type HardwareProfile struct {
	UnifiedMemory bool   `json:"unified_memory"`
	VendorGPU     bool   `json:"vendor_gpu"`
	GenericGPU    bool   `json:"generic_gpu"`
	CPU           bool   `json:"cpu"`
	GPUName       string `json:"gpu_name,omitempty"`
	Platform      string `json:"platform"`
}

// Prober answers the individual hardware questions.
// This abstraction allows for mock implementations during testing.
type Prober interface {
	// Platform returns GOOS/GOARCH.
	Platform() (goos, goarch string)

	// VendorGPUName returns the name of the first vendor GPU, or an error
	// when none answers.
	VendorGPUName(ctx context.Context) (string, error)

	// GenericGPU reports whether a generic GPU compute path was advertised
	// outside of the platform default.
	GenericGPU() bool
}

// SystemProber probes the real machine.
type SystemProber struct {
	// NvidiaSMIPath is the path to the nvidia-smi executable.
	// If empty, uses "nvidia-smi" and relies on PATH.
	NvidiaSMIPath string

	// Timeout bounds the nvidia-smi query. Zero means 5s.
	Timeout time.Duration
}

// Platform implements Prober.
func (p SystemProber) Platform() (string, string) {
	return runtime.GOOS, runtime.GOARCH
}

// VendorGPUName implements Prober by asking nvidia-smi for the device name.
func (p SystemProber) VendorGPUName(ctx context.Context) (string, error) {
	path := p.NvidiaSMIPath
	if path == "" {
		path = "nvidia-smi"
	}
	if _, err := exec.LookPath(path); err != nil {
		return "", fmt.Errorf("nvidia-smi not found: %w", err)
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, path, "--query-gpu=name", "--format=csv,noheader")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("nvidia-smi failed: %w (stderr: %s)", err, stderr.String())
	}
	return parseGPUName(stdout.String())
}

// GenericGPU implements Prober. AI_WORKSPACE_GENERIC_GPU=true advertises a
// generic compute path (e.g. Vulkan) on machines without Metal.
func (p SystemProber) GenericGPU() bool {
	return core.ParseBoolEnv(core.EnvKey("GENERIC_GPU"), false)
}

// parseGPUName returns the first device name from nvidia-smi CSV output.
func parseGPUName(output string) (string, error) {
	output = strings.TrimSpace(output)
	if output == "" {
		return "", fmt.Errorf("empty nvidia-smi output")
	}
	record, err := csv.NewReader(strings.NewReader(output)).Read()
	if err != nil {
		return "", fmt.Errorf("failed to parse CSV: %w", err)
	}
	name := strings.TrimSpace(record[0])
	if name == "" {
		return "", fmt.Errorf("nvidia-smi reported an empty device name")
	}
	return name, nil
}

// DetectHardware builds a HardwareProfile from the prober.
//
// Unified memory is Apple silicon (darwin/arm64). Darwin always has a Metal
// device, which counts as a generic GPU. A vendor GPU is one nvidia-smi can
// name.
func DetectHardware(ctx context.Context, p Prober) HardwareProfile {
	if p == nil {
		p = SystemProber{}
	}
	goos, goarch := p.Platform()
	profile := HardwareProfile{
		CPU:      true,
		Platform: goos + "/" + goarch,
	}

	if goos == "darwin" {
		profile.GenericGPU = true
		profile.UnifiedMemory = goarch == "arm64"
	}
	if p.GenericGPU() {
		profile.GenericGPU = true
	}
	if name, err := p.VendorGPUName(ctx); err == nil {
		profile.VendorGPU = true
		profile.GPUName = name
	}
	return profile
}

var (
	systemOnce    sync.Once
	systemProfile HardwareProfile
)

// SystemHardware probes the real machine on first use and returns the same
// profile for the lifetime of the process.
func SystemHardware() HardwareProfile {
	systemOnce.Do(func() {
		systemProfile = DetectHardware(context.Background(), SystemProber{})
	})
	return systemProfile
}
