package backend

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"ai_workspace/core"
)

// Identity names a compute backend.
type Identity string

const (
	UnifiedMemory Identity = "unified-memory"
	VendorGPU     Identity = "vendor-gpu"
	GenericGPU    Identity = "generic-gpu"
	CPU           Identity = "cpu"
)

// autoRanking is the order tried when the preference is auto.
var autoRanking = []Identity{UnifiedMemory, VendorGPU, GenericGPU, CPU}

// Preference is the configured device choice: auto or one Identity.
type Preference string

// Auto picks the best available backend.
const Auto Preference = "auto"

// ErrUnknownPreference is returned by ParsePreference for unrecognized values.
var ErrUnknownPreference = errors.New("backend: unknown device preference")

var preferenceAliases = map[string]Preference{
	"auto":           Auto,
	"":               Auto,
	"unified-memory": Preference(UnifiedMemory),
	"mlx":            Preference(UnifiedMemory),
	"vendor-gpu":     Preference(VendorGPU),
	"cuda":           Preference(VendorGPU),
	"generic-gpu":    Preference(GenericGPU),
	"mps":            Preference(GenericGPU),
	"vulkan":         Preference(GenericGPU),
	"cpu":            Preference(CPU),
}

// ParsePreference normalizes a device string, accepting the short aliases
// mlx, cuda, mps and vulkan.
func ParsePreference(s string) (Preference, error) {
	p, ok := preferenceAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPreference, s)
	}
	return p, nil
}

// Toggles switches individual accelerated backends off. CPU cannot be disabled.
type Toggles struct {
	EnableUnifiedMemory bool
	EnableVendorGPU     bool
	EnableGenericGPU    bool
}

// AllEnabled returns toggles with every backend allowed.
func AllEnabled() Toggles {
	return Toggles{EnableUnifiedMemory: true, EnableVendorGPU: true, EnableGenericGPU: true}
}

// TogglesFromConfig reads the enable_* switches.
func TogglesFromConfig(cfg *core.Config) Toggles {
	return Toggles{
		EnableUnifiedMemory: cfg.EnableUnifiedMemory,
		EnableVendorGPU:     cfg.EnableVendorGPU,
		EnableGenericGPU:    cfg.EnableGenericGPU,
	}
}

// Available reports whether id can run given the profile and toggles.
func Available(id Identity, profile HardwareProfile, toggles Toggles) bool {
	switch id {
	case UnifiedMemory:
		return profile.UnifiedMemory && toggles.EnableUnifiedMemory
	case VendorGPU:
		return profile.VendorGPU && toggles.EnableVendorGPU
	case GenericGPU:
		return profile.GenericGPU && toggles.EnableGenericGPU
	case CPU:
		return true
	}
	return false
}

// Select chooses a backend. An explicit preference wins when available;
// otherwise the auto ranking applies. The result is always usable.
func Select(profile HardwareProfile, pref Preference, toggles Toggles) Identity {
	if pref != Auto && pref != "" {
		if id := Identity(pref); Available(id, profile, toggles) {
			return id
		}
	}
	for _, id := range autoRanking {
		if Available(id, profile, toggles) {
			return id
		}
	}
	return CPU
}

// Selector remembers the backend chosen for each engine kind. A choice only
// changes through Reconfigure.
type Selector struct {
	mu       sync.RWMutex
	profile  HardwareProfile
	toggles  Toggles
	pref     Preference
	chosen   map[Kind]Identity
	override map[Kind]Preference
	logger   *zap.Logger
}

// NewSelector creates a Selector over a fixed hardware profile.
func NewSelector(profile HardwareProfile, pref Preference, toggles Toggles, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{
		profile:  profile,
		toggles:  toggles,
		pref:     pref,
		chosen:   make(map[Kind]Identity),
		override: make(map[Kind]Preference),
		logger:   logger,
	}
}

// Profile returns the hardware profile the selector was built with.
func (s *Selector) Profile() HardwareProfile {
	return s.profile
}

// For returns the backend for kind, selecting it on first use.
func (s *Selector) For(kind Kind) Identity {
	s.mu.RLock()
	id, ok := s.chosen[kind]
	s.mu.RUnlock()
	if ok {
		return id
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.chosen[kind]; ok {
		return id
	}
	return s.selectLocked(kind)
}

// Reconfigure re-runs selection for kind with a new preference and returns
// the previous and new backends.
func (s *Selector) Reconfigure(kind Kind, pref Preference) (previous, current Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous = s.chosen[kind]
	s.override[kind] = pref
	current = s.selectLocked(kind)
	return previous, current
}

func (s *Selector) selectLocked(kind Kind) Identity {
	pref := s.pref
	if p, ok := s.override[kind]; ok {
		pref = p
	}
	id := Select(s.profile, pref, s.toggles)
	if pref != Auto && pref != "" && Identity(pref) != id {
		s.logger.Warn("preferred backend unavailable, falling back",
			zap.String("kind", string(kind)),
			zap.String("preferred", string(pref)),
			zap.String("backend", string(id)))
	} else {
		s.logger.Info("backend selected",
			zap.String("kind", string(kind)),
			zap.String("backend", string(id)))
	}
	s.chosen[kind] = id
	return id
}
