package browser

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticResolver answers from a fixed table and never touches the network.
type staticResolver map[string][]string

func (r staticResolver) LookupNetIP(_ context.Context, _, host string) ([]netip.Addr, error) {
	raw, ok := r[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	out := make([]netip.Addr, 0, len(raw))
	for _, s := range raw {
		out = append(out, netip.MustParseAddr(s))
	}
	return out, nil
}

func TestURLGuardCheck(t *testing.T) {
	guard := NewURLGuard("devbox.lan").WithResolver(staticResolver{
		"example.com":  {"93.184.216.34"},
		"localhost":    {"127.0.0.1", "::1"},
		"localtest.me": {"127.0.0.1"},
		"intranet.lan": {"10.1.2.3"},
	})

	tests := []struct {
		name   string
		url    string
		errMsg string // empty = allowed
	}{
		{"valid https", "https://example.com", ""},
		{"valid with port and path", "http://example.com:8080/path", ""},
		{"about blank", "about:blank", ""},
		{"allow listed host", "http://devbox.lan:3000", ""},

		{"file scheme", "file:///etc/passwd", "scheme"},
		{"javascript scheme", "javascript:alert(1)", "scheme"},
		{"data scheme", "data:text/html,<h1>hi</h1>", "scheme"},
		{"no scheme", "example.com", "scheme"},
		{"empty host", "http:///path", "empty hostname"},

		{"localhost", "http://localhost:8080", "loopback"},
		{"loopback literal", "http://127.0.0.1", "loopback"},
		{"ipv6 loopback", "http://[::1]", "loopback"},
		{"ipv4 mapped loopback", "http://[::ffff:127.0.0.1]", "IPv4-mapped"},
		{"name resolving to loopback", "http://localtest.me", "loopback"},
		{"private", "http://192.168.1.1", "private"},
		{"name resolving to private", "https://intranet.lan", "private"},
		{"link-local", "http://169.254.1.1", "link-local"},
		{"aws metadata", "http://169.254.169.254/latest/meta-data/", "cloud metadata address"},
		{"gcp metadata", "http://metadata.google.internal", "cloud metadata hostname"},
		{"unspecified", "http://0.0.0.0", "unspecified"},
		{"unresolvable", "http://nowhere.invalid", "DNS resolution failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := guard.Check(context.Background(), tt.url)
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var se *URLSafetyError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.url, se.URL)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestNilURLGuardAllowsEverything(t *testing.T) {
	var g *URLGuard
	assert.NoError(t, g.Check(context.Background(), "file:///etc/passwd"))
}
