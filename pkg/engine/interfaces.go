package engine

import (
	"context"

	"github.com/whoson/whoson/pkg/probe"
)

// StatusProber queries one target for live status. Ordinary unreachability
// comes back as an offline snapshot, never an error.
type StatusProber interface {
	Probe(ctx context.Context, address string, kind probe.Kind) (*probe.Snapshot, error)
}

// KindResolver detects which protocol family a target speaks.
type KindResolver interface {
	Resolve(ctx context.Context, address string) probe.Kind
}
