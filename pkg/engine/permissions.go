package engine

import (
	"context"

	"github.com/whoson/whoson/pkg/platform"
	"github.com/whoson/whoson/pkg/telemetry"
)

// Verifier checks the engine's fixed required-capability set in a scope and
// attempts a single corrective self-grant when something is missing. It
// never requests anything beyond the fixed set and never touches another
// principal's grants.
type Verifier struct {
	rm     platform.ResourceManager
	logger *telemetry.Logger
}

// NewVerifier creates a capability verifier.
func NewVerifier(rm platform.ResourceManager, logger *telemetry.Logger) *Verifier {
	return &Verifier{
		rm:     rm,
		logger: logger.NewComponentLogger("permissions"),
	}
}

// Verify checks the required set on a resource for the engine's own
// principal. An empty resourceID checks the scope itself. When capabilities
// are missing it attempts one corrective grant and re-checks, reporting
// whether the full set is satisfied afterward along with whatever is still
// missing.
func (v *Verifier) Verify(ctx context.Context, scopeID, resourceID string) (bool, []platform.Capability, error) {
	required := platform.RequiredCapabilities()

	missing, err := v.rm.MissingCapabilities(ctx, scopeID, resourceID, required)
	if err != nil {
		return false, nil, err
	}
	if len(missing) == 0 {
		return true, nil, nil
	}

	log := v.logger.WithScope(scopeID)
	log.Warnf("missing capabilities %v, attempting corrective grant", missing)

	if err := v.rm.GrantCapabilities(ctx, scopeID, resourceID, missing); err != nil {
		log.WithError(err).Warn("corrective grant failed")
		return false, missing, nil
	}

	missing, err = v.rm.MissingCapabilities(ctx, scopeID, resourceID, required)
	if err != nil {
		return false, nil, err
	}
	return len(missing) == 0, missing, nil
}
