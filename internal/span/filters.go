package span

import (
	"strings"
)

// Filter names accepted in the data_filters configuration.
const (
	FilterPasswords   = "RemovePasswords"
	FilterJWT         = "RemoveJWT"
	FilterAuthHeaders = "RemoveAuthHeaders"
	FilterAPIKeys     = "RemoveAPIKeys"
)

// Redacted replaces any filtered attribute value.
const Redacted = "****"

// DefaultFilters are enabled when no filter list is configured.
var DefaultFilters = []string{FilterPasswords, FilterJWT}

var (
	apiKeyPrefixes     = []string{"sk-", "pk-", "AKIA", "ghp_", "gho_", "ghu_", "ghs_", "ghr_"}
	apiKeyNamePatterns = []string{"api_key", "apikey", "api-key"}
)

// Filters redacts sensitive attribute values before they are buffered.
// The zero value redacts nothing.
type Filters struct {
	passwords   bool
	jwt         bool
	authHeaders bool
	apiKeys     bool
}

// NewFilters enables the named filters. Unknown names are ignored.
func NewFilters(names []string) Filters {
	var f Filters
	for _, name := range names {
		switch strings.TrimSpace(name) {
		case FilterPasswords:
			f.passwords = true
		case FilterJWT:
			f.jwt = true
		case FilterAuthHeaders:
			f.authHeaders = true
		case FilterAPIKeys:
			f.apiKeys = true
		}
	}
	return f
}

// ParseFilters splits a comma separated filter list such as
// "RemovePasswords, RemoveJWT".
func ParseFilters(list string) []string {
	var names []string
	for _, part := range strings.Split(list, ",") {
		if part = strings.TrimSpace(part); part != "" {
			names = append(names, part)
		}
	}
	return names
}

// Apply returns the value to store for the attribute key, or Redacted.
// Empty and zero values are never redacted.
func (f Filters) Apply(key string, value any) any {
	if isFalsy(value) {
		return value
	}

	keyLower := strings.ToLower(key)

	if f.passwords && strings.Contains(keyLower, "password") {
		return Redacted
	}
	if f.jwt && isJWT(value) {
		return Redacted
	}
	if f.authHeaders && keyLower == "authorization" {
		return Redacted
	}
	if f.apiKeys {
		for _, pattern := range apiKeyNamePatterns {
			if strings.Contains(keyLower, pattern) {
				return Redacted
			}
		}
		if isAPIKey(value) {
			return Redacted
		}
	}

	return value
}

func isFalsy(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case bool:
		return !v
	case int:
		return v == 0
	case int64:
		return v == 0
	case float64:
		return v == 0
	}
	return false
}

// isJWT reports whether value looks like header.payload.signature with a
// base64 JSON header.
func isJWT(value any) bool {
	s, ok := value.(string)
	if !ok || !strings.HasPrefix(s, "eyJ") {
		return false
	}
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return false
	}
	for _, part := range parts {
		if part == "" {
			return false
		}
	}
	return true
}

func isAPIKey(value any) bool {
	s, ok := value.(string)
	if !ok {
		return false
	}
	s = strings.TrimSpace(s)
	for _, prefix := range apiKeyPrefixes {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}
