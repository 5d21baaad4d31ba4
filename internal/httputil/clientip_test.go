package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		expectedIP string
	}{
		{
			name:       "direct loopback peer",
			remoteAddr: "127.0.0.1:52100",
			expectedIP: "127.0.0.1",
		},
		{
			name:       "forwarded through local proxy",
			remoteAddr: "127.0.0.1:52100",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.7, 203.0.113.9"},
			expectedIP: "198.51.100.7",
		},
		{
			name:       "real ip through local proxy",
			remoteAddr: "[::1]:52100",
			headers:    map[string]string{"X-Real-IP": "203.0.113.5"},
			expectedIP: "203.0.113.5",
		},
		{
			name:       "forwarding headers from remote peer are ignored",
			remoteAddr: "192.0.2.10:4444",
			headers:    map[string]string{"X-Forwarded-For": "127.0.0.1"},
			expectedIP: "192.0.2.10",
		},
		{
			name:       "IPv6 peer",
			remoteAddr: "[2001:db8::1]:8080",
			expectedIP: "2001:db8::1",
		},
		{
			name:       "address without port",
			remoteAddr: "192.0.2.1",
			expectedIP: "192.0.2.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/health", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.expectedIP, ClientIP(r))
		})
	}
}

func TestIsLoopback(t *testing.T) {
	tests := map[string]bool{
		"127.0.0.1:1":     true,
		"[::1]:1":         true,
		"localhost:8787":  true,
		"10.0.0.2:1":      false,
		"[2001:db8::1]:1": false,
	}
	for addr, want := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = addr
		assert.Equal(t, want, IsLoopback(r), addr)
	}
}
