package core

import (
	"reflect"
	"testing"
	"time"
)

func TestEnvKey(t *testing.T) {
	if got := EnvKey("DEVICE"); got != "AI_WORKSPACE_DEVICE" {
		t.Errorf("EnvKey(DEVICE) = %q, want AI_WORKSPACE_DEVICE", got)
	}
}

func TestGetEnvOrDefault(t *testing.T) {
	const testKey = "TEST_GET_ENV_OR_DEFAULT"

	tests := []struct {
		name         string
		envValue     string
		defaultValue string
		want         string
	}{
		{"returns env value when set", "custom_value", "default", "custom_value"},
		{"returns default when empty", "", "default", "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(testKey, tt.envValue)
			if got := GetEnvOrDefault(testKey, tt.defaultValue); got != tt.want {
				t.Errorf("GetEnvOrDefault() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseIntEnv(t *testing.T) {
	const testKey = "TEST_PARSE_INT_ENV"

	tests := []struct {
		name         string
		envValue     string
		defaultValue int
		want         int
	}{
		{"parses valid integer", "42", 0, 42},
		{"parses negative integer", "-10", 0, -10},
		{"trims whitespace", " 7 ", 0, 7},
		{"returns default for garbage", "abc", 5, 5},
		{"returns default when empty", "", 3, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(testKey, tt.envValue)
			if got := ParseIntEnv(testKey, tt.defaultValue); got != tt.want {
				t.Errorf("ParseIntEnv() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseFloat64Env(t *testing.T) {
	const testKey = "TEST_PARSE_FLOAT_ENV"

	t.Setenv(testKey, "0.25")
	if got := ParseFloat64Env(testKey, 1); got != 0.25 {
		t.Errorf("ParseFloat64Env() = %v, want 0.25", got)
	}

	t.Setenv(testKey, "not-a-float")
	if got := ParseFloat64Env(testKey, 1); got != 1 {
		t.Errorf("ParseFloat64Env() = %v, want default 1", got)
	}
}

func TestParseBoolEnv(t *testing.T) {
	const testKey = "TEST_PARSE_BOOL_ENV"

	tests := []struct {
		envValue     string
		defaultValue bool
		want         bool
	}{
		{"true", false, true},
		{"YES", false, true},
		{"on", false, true},
		{"1", false, true},
		{"false", true, false},
		{"Off", true, false},
		{"0", true, false},
		{"maybe", true, true},
		{"", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.envValue, func(t *testing.T) {
			t.Setenv(testKey, tt.envValue)
			if got := ParseBoolEnv(testKey, tt.defaultValue); got != tt.want {
				t.Errorf("ParseBoolEnv(%q) = %v, want %v", tt.envValue, got, tt.want)
			}
		})
	}
}

func TestParseDurationEnv(t *testing.T) {
	const testKey = "TEST_PARSE_DURATION_ENV"

	tests := []struct {
		name     string
		envValue string
		want     time.Duration
	}{
		{"go duration", "90s", 90 * time.Second},
		{"minutes", "2m", 2 * time.Minute},
		{"bare seconds", "15", 15 * time.Second},
		{"invalid uses default", "soon", time.Minute},
		{"empty uses default", "", time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(testKey, tt.envValue)
			if got := ParseDurationEnv(testKey, time.Minute); got != tt.want {
				t.Errorf("ParseDurationEnv(%q) = %v, want %v", tt.envValue, got, tt.want)
			}
		})
	}
}

func TestParseListEnv(t *testing.T) {
	const testKey = "TEST_PARSE_LIST_ENV"
	def := []string{"a"}

	tests := []struct {
		name     string
		envValue string
		want     []string
	}{
		{"splits and trims", " x, y ,z", []string{"x", "y", "z"}},
		{"drops empty entries", "x,,y,", []string{"x", "y"}},
		{"only separators uses default", ",,", def},
		{"unset uses default", "", def},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(testKey, tt.envValue)
			if got := ParseListEnv(testKey, def); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseListEnv(%q) = %v, want %v", tt.envValue, got, tt.want)
			}
		})
	}
}
