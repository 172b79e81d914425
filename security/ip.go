package security

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/giantswarm/employee-mcp-server/internal/util"
)

// ErrMalformedForwardedFor is returned by ProxyPolicy.ClientIP when the
// X-Forwarded-For entry that identifies the client is not an IP address.
var ErrMalformedForwardedFor = errors.New("malformed X-Forwarded-For header")

// ProxyPolicy decides which address a request is attributed to. That address
// keys the per-IP rate limiters and is recorded in audit events.
type ProxyPolicy struct {
	// TrustProxy enables X-Forwarded-For and X-Real-IP
	TrustProxy bool

	// Hops is the number of proxies we operate in front of the server. Each
	// appends one entry to X-Forwarded-For. Zero counts as one.
	Hops int
}

// ClientIP returns the address r is attributed to.
//
// Without TrustProxy that is always the peer address. With it, the entry Hops
// positions from the right of X-Forwarded-For is used, so entries a client
// prepends itself are ignored; X-Real-IP is consulted only when
// X-Forwarded-For is absent. When the selected X-Forwarded-For entry is not an
// IP, ClientIP returns the peer address and an error wrapping
// ErrMalformedForwardedFor.
func (p ProxyPolicy) ClientIP(r *http.Request) (string, error) {
	peer := peerIP(r.RemoteAddr)
	if !p.TrustProxy {
		return peer, nil
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ip, err := p.forwardedClient(xff)
		if err != nil {
			return peer, err
		}
		return ip, nil
	}

	if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
		return ip.String(), nil
	}
	return peer, nil
}

// forwardedClient picks the entry just left of our own proxies:
//
//	X-Forwarded-For: client, proxy-a, proxy-b   (Hops=2) -> client
func (p ProxyPolicy) forwardedClient(xff string) (string, error) {
	entries := strings.Split(xff, ",")
	idx := max(len(entries)-max(p.Hops, 1)-1, 0)

	candidate := strings.TrimSpace(entries[idx])
	ip := net.ParseIP(candidate)
	if ip == nil {
		return "", fmt.Errorf("%w: client entry %q", ErrMalformedForwardedFor, util.SafeTruncate(candidate, maxLoggedHeaderEntry))
	}
	return ip.String(), nil
}

// maxLoggedHeaderEntry bounds how much of a rejected header entry ends up in logs
const maxLoggedHeaderEntry = 64

func peerIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
