package security

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestProxyPolicy_ClientIP(t *testing.T) {
	tests := []struct {
		name    string
		policy  ProxyPolicy
		remote  string
		headers map[string]string
		want    string
	}{
		{
			name:   "direct connection",
			remote: "203.0.113.7:52100",
			want:   "203.0.113.7",
		},
		{
			name:    "forwarding headers ignored without trust",
			remote:  "203.0.113.7:52100",
			headers: map[string]string{"X-Forwarded-For": "198.51.100.1", "X-Real-IP": "198.51.100.2"},
			want:    "203.0.113.7",
		},
		{
			name:    "one ingress proxy",
			policy:  ProxyPolicy{TrustProxy: true, Hops: 1},
			remote:  "10.0.0.5:443",
			headers: map[string]string{"X-Forwarded-For": "198.51.100.1, 10.0.0.4"},
			want:    "198.51.100.1",
		},
		{
			name:    "zero hops counts as one",
			policy:  ProxyPolicy{TrustProxy: true},
			remote:  "10.0.0.5:443",
			headers: map[string]string{"X-Forwarded-For": "198.51.100.1, 10.0.0.4"},
			want:    "198.51.100.1",
		},
		{
			name:    "prepended entries cannot pick the address",
			policy:  ProxyPolicy{TrustProxy: true, Hops: 1},
			remote:  "10.0.0.5:443",
			headers: map[string]string{"X-Forwarded-For": "1.1.1.1, 198.51.100.1, 10.0.0.4"},
			want:    "198.51.100.1",
		},
		{
			name:    "load balancer plus ingress",
			policy:  ProxyPolicy{TrustProxy: true, Hops: 2},
			remote:  "10.0.0.5:443",
			headers: map[string]string{"X-Forwarded-For": "198.51.100.1, 10.1.0.1, 10.0.0.4"},
			want:    "198.51.100.1",
		},
		{
			name:    "short header uses leftmost entry",
			policy:  ProxyPolicy{TrustProxy: true, Hops: 2},
			remote:  "10.0.0.5:443",
			headers: map[string]string{"X-Forwarded-For": "198.51.100.1"},
			want:    "198.51.100.1",
		},
		{
			name:    "X-Real-IP when X-Forwarded-For is absent",
			policy:  ProxyPolicy{TrustProxy: true},
			remote:  "10.0.0.5:443",
			headers: map[string]string{"X-Real-IP": " 2001:db8::1 "},
			want:    "2001:db8::1",
		},
		{
			name:    "invalid X-Real-IP falls back to peer",
			policy:  ProxyPolicy{TrustProxy: true},
			remote:  "10.0.0.5:443",
			headers: map[string]string{"X-Real-IP": "localhost"},
			want:    "10.0.0.5",
		},
		{
			name:   "remote address without port",
			remote: "10.0.0.5",
			want:   "10.0.0.5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/token", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}

			got, err := tt.policy.ClientIP(r)
			if err != nil {
				t.Fatalf("ClientIP() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProxyPolicy_ClientIP_MalformedForwardedFor(t *testing.T) {
	policy := ProxyPolicy{TrustProxy: true, Hops: 1}

	for _, xff := range []string{
		"not-an-ip, 10.0.0.4",
		", 10.0.0.4",
		strings.Repeat("x", 500) + ", 10.0.0.4",
	} {
		r := httptest.NewRequest("POST", "/register", nil)
		r.RemoteAddr = "10.0.0.5:443"
		r.Header.Set("X-Forwarded-For", xff)
		r.Header.Set("X-Real-IP", "198.51.100.9")

		got, err := policy.ClientIP(r)
		if !errors.Is(err, ErrMalformedForwardedFor) {
			t.Errorf("ClientIP(%.20q) error = %v, want ErrMalformedForwardedFor", xff, err)
		}
		if got != "10.0.0.5" {
			t.Errorf("ClientIP(%.20q) = %q, want the peer address", xff, got)
		}
		if err != nil && len(err.Error()) > 2*maxLoggedHeaderEntry+len(ErrMalformedForwardedFor.Error()) {
			t.Errorf("error message not bounded: %d bytes", len(err.Error()))
		}
	}
}
