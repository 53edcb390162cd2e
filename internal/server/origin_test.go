package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeOrigins(t *testing.T) {
	origins, allowAll := normalizeOrigins([]string{" HTTP://Example.COM ", "", "not-a-url", "https://chat.example:8443"})
	assert.False(t, allowAll)
	assert.Equal(t, []string{"http://example.com", "https://chat.example:8443"}, origins)

	origins, allowAll = normalizeOrigins([]string{"*"})
	assert.True(t, allowAll)
	assert.Empty(t, origins)

	origins, allowAll = normalizeOrigins(nil)
	assert.False(t, allowAll)
	assert.Nil(t, origins)
}

func TestOriginPolicyAllowed(t *testing.T) {
	policy := NewOriginPolicy([]string{"http://example.com"})
	wildcard := NewOriginPolicy([]string{"*"})

	tests := []struct {
		name     string
		origin   string
		allowed  bool
		wildcard bool
	}{
		{"missing", "", false, false},
		{"exact", "http://example.com", true, true},
		{"upper case", "HTTP://EXAMPLE.COM", true, true},
		{"other host", "http://evil.example", false, true},
		{"other port", "http://example.com:8080", false, true},
		{"no scheme", "example.com", false, false},
		{"javascript", "javascript:alert(1)", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", http.NoBody)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.allowed, policy.CheckOrigin(req))
			assert.Equal(t, tt.wildcard, wildcard.Allowed(req))
		})
	}
}
