package logging

import (
	"regexp"
	"strings"
)

// RedactedPlaceholder replaces anything the filter considers a credential.
const RedactedPlaceholder = "[REDACTED]"

// secretPatterns match credentials embedded in free text such as endpoint
// error bodies or echoed request headers.
var secretPatterns = []*regexp.Regexp{
	// OpenAI-compatible keys, including sk-proj-
	regexp.MustCompile(`sk-[A-Za-z0-9_-]{20,}`),
	// Hugging Face
	regexp.MustCompile(`hf_[A-Za-z0-9]{30,}`),
	// Google
	regexp.MustCompile(`AIza[A-Za-z0-9_-]{35}`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._-]{20,}`),
	regexp.MustCompile(`(?i)\b(password|secret|token|api_?key)\s*[:=]\s*[^\s,;]{8,}`),
}

// sensitiveKeys are matched case-insensitively anywhere in a field name,
// so chat_api_key and AI_WORKSPACE_IMAGE_API_KEY are both covered.
var sensitiveKeys = []string{
	"api_key",
	"apikey",
	"authorization",
	"password",
	"secret",
	"access_token",
	"auth_token",
	"hf_token",
}

// RedactSensitiveData replaces every credential found in value.
//
//	RedactSensitiveData("upstream said: invalid key sk-abc...xyz")
//	// "upstream said: invalid key [REDACTED]"
func RedactSensitiveData(value string) string {
	if value == "" {
		return value
	}
	for _, re := range secretPatterns {
		value = re.ReplaceAllString(value, RedactedPlaceholder)
	}
	return value
}

// IsSensitiveField reports whether a field with this name should never be
// logged verbatim. Token counts (max_tokens, total_tokens) are not secrets.
func IsSensitiveField(name string) bool {
	name = strings.ToLower(name)
	for _, key := range sensitiveKeys {
		if strings.Contains(name, key) {
			return true
		}
	}
	return false
}
