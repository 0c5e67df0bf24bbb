package sdruntime

import (
	"errors"
	"strings"
	"testing"
)

func validParams() GenerateParams {
	return GenerateParams{
		Prompt:         "a beautiful sunset over the ocean",
		NegativePrompt: "blurry, low quality",
		Width:          512,
		Height:         512,
		Steps:          20,
		CFGScale:       7.5,
		Seed:           12345,
		BatchSize:      1,
	}
}

func TestValidateParams_ValidInput(t *testing.T) {
	if err := ValidateParams(validParams(), 4); err != nil {
		t.Errorf("expected no error for valid params, got: %v", err)
	}
}

func TestValidateParams_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *GenerateParams)
		wantErr error
	}{
		{"width too small", func(p *GenerateParams) { p.Width = 64 }, ErrInvalidParams},
		{"width too large", func(p *GenerateParams) { p.Width = 4096 }, ErrInvalidParams},
		{"width not divisible by 8", func(p *GenerateParams) { p.Width = 500 }, ErrInvalidParams},
		{"height not divisible by 8", func(p *GenerateParams) { p.Height = 515 }, ErrInvalidParams},
		{"zero steps", func(p *GenerateParams) { p.Steps = 0 }, ErrInvalidParams},
		{"too many steps", func(p *GenerateParams) { p.Steps = 101 }, ErrInvalidParams},
		{"cfg too low", func(p *GenerateParams) { p.CFGScale = 0.5 }, ErrInvalidParams},
		{"cfg too high", func(p *GenerateParams) { p.CFGScale = 31 }, ErrInvalidParams},
		{"batch too large", func(p *GenerateParams) { p.BatchSize = 5 }, ErrInvalidParams},
		{"negative batch", func(p *GenerateParams) { p.BatchSize = -1 }, ErrInvalidParams},
		{"long negative prompt", func(p *GenerateParams) { p.NegativePrompt = strings.Repeat("n", 1001) }, ErrInvalidParams},
		{"null byte in negative prompt", func(p *GenerateParams) { p.NegativePrompt = "x\x00" }, ErrInvalidParams},
		{"empty prompt", func(p *GenerateParams) { p.Prompt = "   " }, ErrInvalidPrompt},
		{"null byte", func(p *GenerateParams) { p.Prompt = "a\x00b" }, ErrInvalidPrompt},
		{"long prompt", func(p *GenerateParams) { p.Prompt = strings.Repeat("x", 1001) }, ErrInvalidPrompt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams()
			tt.mutate(&p)
			err := ValidateParams(p, 4)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateParams() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateParams_PromptCountsRunes(t *testing.T) {
	// 1000 three-byte runes is 3000 bytes but still within the limit.
	p := validParams()
	p.Prompt = strings.Repeat("日", MaxPromptLength)
	if err := ValidateParams(p, 4); err != nil {
		t.Errorf("ValidateParams() error = %v, want nil", err)
	}
}

func TestNormalizePrompt(t *testing.T) {
	if got, want := NormalizePrompt("  a   red\n cube "), "a red cube"; got != want {
		t.Errorf("NormalizePrompt() = %q, want %q", got, want)
	}
}

func TestRemotePrompt(t *testing.T) {
	tests := []struct {
		prompt, negative, want string
	}{
		{"a  red cube", "", "a red cube"},
		{"a red cube", "  ", "a red cube"},
		{"a red cube", "blurry,\tdark", "a red cube\nAvoid: blurry, dark"},
	}
	for _, tt := range tests {
		p := GenerateParams{Prompt: tt.prompt, NegativePrompt: tt.negative}
		if got := p.remotePrompt(); got != tt.want {
			t.Errorf("remotePrompt(%q, %q) = %q, want %q", tt.prompt, tt.negative, got, tt.want)
		}
	}
}

func TestBatch(t *testing.T) {
	if got := (GenerateParams{}).Batch(); got != 1 {
		t.Errorf("Batch() = %d, want 1", got)
	}
	if got := (GenerateParams{BatchSize: 3}).Batch(); got != 3 {
		t.Errorf("Batch() = %d, want 3", got)
	}
}

func TestDefaultSizeFor(t *testing.T) {
	tests := []struct {
		model    string
		fallback int
		want     int
	}{
		{"stabilityai/stable-diffusion-xl-base-1.0", 512, 1024},
		{"runwayml/stable-diffusion-v1-5", 768, 768},
		{"runwayml/stable-diffusion-v1-5", 0, DefaultImageSize},
	}
	for _, tt := range tests {
		if got := DefaultSizeFor(tt.model, tt.fallback); got != tt.want {
			t.Errorf("DefaultSizeFor(%q, %d) = %d, want %d", tt.model, tt.fallback, got, tt.want)
		}
	}
}

func TestResolveSeed(t *testing.T) {
	if seed, drawn := ResolveSeed(42); seed != 42 || drawn {
		t.Errorf("ResolveSeed(42) = (%d, %v), want (42, false)", seed, drawn)
	}
	for i := 0; i < 50; i++ {
		seed, drawn := ResolveSeed(-1)
		if seed < 0 || !drawn {
			t.Fatalf("ResolveSeed(-1) = (%d, %v), want non-negative drawn seed", seed, drawn)
		}
	}
}
