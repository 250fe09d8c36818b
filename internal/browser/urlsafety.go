package browser

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"slices"
	"strings"

	. "github.com/roelfdiedericks/tabgate/internal/logging"
)

// URLSafetyError represents a URL that was blocked for safety reasons
type URLSafetyError struct {
	URL    string
	Reason string
}

func (e *URLSafetyError) Error() string {
	return fmt.Sprintf("URL blocked: %s", e.Reason)
}

// Resolver looks up the addresses of a host. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// URLGuard decides whether the browser may be sent to a URL. It blocks
// non-http(s) schemes and any host resolving to loopback, private,
// link-local, multicast, unspecified or cloud metadata addresses.
type URLGuard struct {
	resolver Resolver
	allow    []string // hosts exempt from address checks
}

// NewURLGuard returns a guard using the system resolver. Hosts in allow skip
// the address checks (scheme checks still apply).
func NewURLGuard(allow ...string) *URLGuard {
	lowered := make([]string, 0, len(allow))
	for _, h := range allow {
		lowered = append(lowered, strings.ToLower(h))
	}
	return &URLGuard{resolver: net.DefaultResolver, allow: lowered}
}

// WithResolver swaps the resolver, mostly for tests.
func (g *URLGuard) WithResolver(r Resolver) *URLGuard {
	g.resolver = r
	return g
}

// Check validates urlStr. A nil guard allows everything.
func (g *URLGuard) Check(ctx context.Context, urlStr string) error {
	if g == nil {
		return nil
	}
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return &URLSafetyError{URL: urlStr, Reason: fmt.Sprintf("invalid URL: %v", err)}
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme == "about" && parsed.Opaque == "blank" {
		return nil
	}
	if scheme != "http" && scheme != "https" {
		return &URLSafetyError{URL: urlStr, Reason: fmt.Sprintf("scheme '%s' not allowed, only http/https", parsed.Scheme)}
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return &URLSafetyError{URL: urlStr, Reason: "empty hostname"}
	}
	if slices.Contains(g.allow, host) {
		return nil
	}
	if isCloudMetadataHost(host) {
		return &URLSafetyError{URL: urlStr, Reason: fmt.Sprintf("cloud metadata hostname blocked: %s", host)}
	}

	// Resolution catches decimal/hex/octal encodings, short forms and names
	// pointing back at internal addresses.
	var addrs []netip.Addr
	if ip, perr := netip.ParseAddr(host); perr == nil {
		addrs = []netip.Addr{ip}
	} else {
		addrs, err = g.resolver.LookupNetIP(ctx, "ip", host)
		if err != nil {
			return &URLSafetyError{URL: urlStr, Reason: fmt.Sprintf("DNS resolution failed: %v", err)}
		}
	}

	for _, addr := range addrs {
		if reason := blockedAddr(addr); reason != "" {
			L_debug("browser: url blocked", "url", urlStr, "host", host, "ip", addr.String(), "reason", reason)
			return &URLSafetyError{URL: urlStr, Reason: fmt.Sprintf("%s (%s resolves to %s)", reason, host, addr)}
		}
	}
	return nil
}

// ValidateURLSafety checks urlStr with the system resolver and no allow list.
func ValidateURLSafety(urlStr string) error {
	return NewURLGuard().Check(context.Background(), urlStr)
}

var cloudMetadataAddr = netip.MustParseAddr("169.254.169.254")

// blockedAddr returns a reason if the address should be blocked, empty if OK.
func blockedAddr(addr netip.Addr) string {
	mapped := addr.Is4In6()
	addr = addr.Unmap()

	var reason string
	switch {
	case addr == cloudMetadataAddr:
		reason = "cloud metadata address blocked"
	case addr.IsLoopback():
		reason = "loopback address blocked"
	case addr.IsPrivate():
		reason = "private network address blocked"
	case addr.IsLinkLocalUnicast():
		reason = "link-local address blocked"
	case addr.IsLinkLocalMulticast(), addr.IsInterfaceLocalMulticast(), addr.IsMulticast():
		reason = "multicast address blocked"
	case addr.IsUnspecified():
		reason = "unspecified address blocked"
	}
	if reason != "" && mapped {
		reason += " (IPv4-mapped)"
	}
	return reason
}

var metadataHosts = []string{
	"metadata.google.internal", // GCP
	"metadata.goog",
	"kubernetes.default.svc",
	"kubernetes.default",
	"metadata",
}

// isCloudMetadataHost checks for known cloud metadata hostnames
func isCloudMetadataHost(host string) bool {
	host = strings.ToLower(host)
	for _, mh := range metadataHosts {
		if host == mh || strings.HasSuffix(host, "."+mh) {
			return true
		}
	}
	return false
}
