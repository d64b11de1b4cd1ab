// Package probe queries Minecraft servers for live status. Two protocol
// families are supported: the Java edition server list ping (TCP) and the
// Bedrock edition RakNet unconnected ping (UDP). Ordinary unreachability is
// reported as an offline snapshot, never as an error; only context
// cancellation propagates to the caller.
package probe

import (
	"context"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout is the per-probe hard timeout. It is deliberately much
// shorter than the scheduler's cycle interval so one dead server cannot
// stall a full cycle.
const DefaultTimeout = 5 * time.Second

// Prober queries game servers for live status.
type Prober struct {
	timeout time.Duration
}

// NewProber creates a prober with the given per-probe timeout. A
// non-positive timeout falls back to DefaultTimeout.
func NewProber(timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Prober{timeout: timeout}
}

// Probe queries address with the given protocol kind and returns a
// snapshot. An unreachable or protocol-mismatched server yields an offline
// snapshot; the returned error is non-nil only when ctx was cancelled.
func (p *Prober) Probe(ctx context.Context, address string, kind Kind) (*Snapshot, error) {
	var snap *Snapshot
	var err error

	switch kind {
	case KindJava:
		snap, err = p.probeJava(ctx, address)
	case KindBedrock:
		snap, err = p.probeBedrock(ctx, address)
	default:
		return nil, fmt.Errorf("unknown protocol kind: %s", kind)
	}

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &Snapshot{Online: false, Kind: kind, Err: err.Error()}, nil
	}

	return snap, nil
}

// splitHostPort splits host[:port], substituting defaultPort when the
// address carries none.
func splitHostPort(address string, defaultPort int) (string, int, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		// No port in the address.
		if strings.Count(address, ":") == 0 {
			return address, defaultPort, nil
		}
		return "", 0, fmt.Errorf("invalid address %q: %w", address, err)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port in address %q", address)
	}

	return host, port, nil
}

// roundLatency converts a duration to milliseconds rounded to 2 decimal
// places.
func roundLatency(d time.Duration) float64 {
	ms := float64(d.Nanoseconds()) / 1e6
	return math.Round(ms*100) / 100
}

func (p *Prober) deadline(ctx context.Context) time.Time {
	deadline := time.Now().Add(p.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return deadline
}
