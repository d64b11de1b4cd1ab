package probe

import (
	"context"
	"net"
	"strconv"
	"strings"
)

// Resolver determines the protocol family of an address the user did not
// type explicitly.
type Resolver struct {
	prober *Prober
}

// NewResolver creates a resolver backed by the given prober.
func NewResolver(p *Prober) *Resolver {
	return &Resolver{prober: p}
}

// Resolve tries each protocol in fixed order, Java then Bedrock, and
// returns the first that answers a liveness probe. For Java a plain TCP
// connection acceptance suffices; Bedrock is datagram-based, so liveness
// requires a full ping/pong round trip. When the address carries no port
// the Bedrock attempt appends the well-known default port; the Java
// attempt uses the address verbatim. Returns KindUndetermined when both
// fail; callers must not silently default to Java.
func (r *Resolver) Resolve(ctx context.Context, address string) Kind {
	if r.probeJavaLiveness(ctx, address) {
		return KindJava
	}

	bedrockAddress := address
	if !strings.Contains(address, ":") {
		bedrockAddress = net.JoinHostPort(address, strconv.Itoa(DefaultBedrockPort))
	}
	if snap, err := r.prober.Probe(ctx, bedrockAddress, KindBedrock); err == nil && snap.Online {
		return KindBedrock
	}

	return KindUndetermined
}

func (r *Resolver) probeJavaLiveness(ctx context.Context, address string) bool {
	host, port, err := splitHostPort(address, DefaultJavaPort)
	if err != nil {
		return false
	}

	dialer := net.Dialer{Timeout: r.prober.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = conn.Close()

	return true
}
