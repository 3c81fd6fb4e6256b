package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spokplacenta/rfb-html5/internal/config"
)

func TestIsOriginAllowed(t *testing.T) {
	tests := []struct {
		name    string
		origin  string
		allowed []string
		host    string
		want    bool
	}{
		{"empty origin", "", nil, "example.com", false},
		{"listed origin", "https://a.example", []string{"https://a.example"}, "b", true},
		{"unlisted origin", "https://c.example", []string{"https://a.example"}, "b", false},
		{"no list, same host", "https://example.com", nil, "example.com", true},
		{"no list, other host", "https://other.example", nil, "example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isOriginAllowed(tt.origin, tt.allowed, tt.host))
		})
	}
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	h := securityHeadersMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, rec.Header().Get("Content-Security-Policy"))
}

func TestCORSMiddlewareOptionsShortCircuit(t *testing.T) {
	called := false
	h := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}), []string{"https://a.example"})

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://a.example")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://a.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCreateServer(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	server := createServer(cfg)
	assert.Equal(t, "0.0.0.0:8080", server.Addr)
	assert.NotNil(t, server.Handler)
}
