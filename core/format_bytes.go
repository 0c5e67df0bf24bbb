package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Binary byte units. Displayed as KB/MB/GB/TB.
const (
	BytesPerKB int64 = 1024
	BytesPerMB int64 = 1024 * BytesPerKB
	BytesPerGB int64 = 1024 * BytesPerMB
	BytesPerTB int64 = 1024 * BytesPerGB
)

var byteUnits = []struct {
	suffix string
	size   int64
}{
	{"TB", BytesPerTB},
	{"GB", BytesPerGB},
	{"MB", BytesPerMB},
	{"KB", BytesPerKB},
}

// FormatBytes converts a byte count to a human-readable string such as
// "512 B" or "1.50 GB". Negative values format as "0 B".
func FormatBytes(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	for _, u := range byteUnits {
		if bytes >= u.size {
			return fmt.Sprintf("%.2f %s", float64(bytes)/float64(u.size), u.suffix)
		}
	}
	return fmt.Sprintf("%d B", bytes)
}

// ParseBytes converts "100MB", "1.5 GB" or "2048" into bytes.
// Units are case-insensitive and the trailing B is optional.
func ParseBytes(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	numEnd := strings.IndexFunc(s, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	})
	if numEnd == -1 {
		numEnd = len(s)
	}
	if numEnd == 0 {
		return 0, fmt.Errorf("invalid size %q: no number found", s)
	}

	value, err := strconv.ParseFloat(s[:numEnd], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}

	unit := strings.ToUpper(strings.TrimSpace(s[numEnd:]))
	if unit == "" || unit == "B" {
		return int64(value), nil
	}
	for _, u := range byteUnits {
		if unit == u.suffix || unit == u.suffix[:1] {
			return int64(value * float64(u.size)), nil
		}
	}
	return 0, fmt.Errorf("invalid size %q: unknown unit %q", s, unit)
}

// ParseBytesEnv reads a size such as "500MB" from the environment,
// returning defaultValue when unset or malformed.
func ParseBytesEnv(key string, defaultValue int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	n, err := ParseBytes(v)
	if err != nil {
		return defaultValue
	}
	return n
}
