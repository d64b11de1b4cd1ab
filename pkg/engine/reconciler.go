package engine

import (
	"context"
	"time"

	"github.com/whoson/whoson/pkg/faults"
	"github.com/whoson/whoson/pkg/platform"
	"github.com/whoson/whoson/pkg/probe"
	"github.com/whoson/whoson/pkg/render"
	"github.com/whoson/whoson/pkg/store"
	"github.com/whoson/whoson/pkg/telemetry"
)

// Reconciler brings one tracked target's external resources in line with the
// server's live status: the status channel label and the detail report
// message. A reconciliation is idempotent and never retries the probe.
type Reconciler struct {
	registry *store.Store
	rm       platform.ResourceManager
	prober   StatusProber
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
}

// NewReconciler creates a reconciler over the given collaborators.
func NewReconciler(
	registry *store.Store,
	rm platform.ResourceManager,
	prober StatusProber,
	logger *telemetry.Logger,
	metrics *telemetry.Metrics,
) *Reconciler {
	return &Reconciler{
		registry: registry,
		rm:       rm,
		prober:   prober,
		logger:   logger.NewComponentLogger("reconciler"),
		metrics:  metrics,
	}
}

// Reconcile refreshes the external resources for one (scope, key) pair. A
// target removed concurrently is a silent no-op. Rename and report rewrite
// are independent: a failed rename never blocks the report update, so the
// two resources may disagree for at most one cycle.
func (r *Reconciler) Reconcile(ctx context.Context, scopeID, key string) error {
	start := time.Now()
	log := r.logger.WithScope(scopeID).WithTarget(key)

	target, err := r.registry.Get(ctx, scopeID, key)
	if err != nil {
		if faults.IsNotFound(err) {
			log.Debug("target removed before reconciliation, skipping")
			r.metrics.RecordReconcile("skipped", time.Since(start))
			return nil
		}
		r.metrics.RecordReconcile("error", time.Since(start))
		return err
	}

	snap, err := r.probeTarget(ctx, target)
	if err != nil {
		r.metrics.RecordReconcile("error", time.Since(start))
		return err
	}

	r.renameStatusChannel(ctx, log, target, snap)
	r.rewriteReport(ctx, log, target, snap)

	r.metrics.RecordReconcile("ok", time.Since(start))
	return nil
}

func (r *Reconciler) probeTarget(ctx context.Context, target *store.Target) (*probe.Snapshot, error) {
	start := time.Now()
	snap, err := r.prober.Probe(ctx, target.Address, target.Kind)
	if err != nil {
		r.metrics.RecordProbe(string(target.Kind), "error", time.Since(start))
		return nil, err
	}

	result := "offline"
	if snap.Online {
		result = "online"
	}
	r.metrics.RecordProbe(string(target.Kind), result, time.Since(start))
	return snap, nil
}

// renameStatusChannel applies the compare-then-rename step with the
// permission fallback ladder. All failures end here: a stale label waits
// for the next cycle rather than failing the reconciliation.
func (r *Reconciler) renameStatusChannel(ctx context.Context, log *telemetry.Logger, target *store.Target, snap *probe.Snapshot) {
	label := render.Label(snap.Online, target.DisplayName, target.Address, snap.PlayersOnline, snap.PlayersMax)

	current, err := r.rm.StatusChannelLabel(ctx, target.ScopeID, target.StatusChannelID)
	if err != nil {
		log.WithError(err).Warn("failed to read status channel label")
		r.recordFault(err)
		return
	}
	if current == label {
		return
	}

	err = r.rm.RenameStatusChannel(ctx, target.ScopeID, target.StatusChannelID, label)
	if err == nil {
		log.Infof("renamed status channel to %q", label)
		r.metrics.RecordRename("ok")
		return
	}

	switch {
	case faults.IsRateLimited(err):
		// Rate limits are cycle-wide. The next cycle retries.
		log.Warn("rate limited renaming status channel, deferring to next cycle")
		r.metrics.RecordRename("rate_limited")
		r.recordFault(err)
		return
	case faults.IsPermissionDenied(err):
		if r.renameFallback(ctx, log, target, snap, label) {
			return
		}
		log.Error("all rename fallbacks failed, leaving status channel stale")
		r.metrics.RecordRename("failed")
		return
	default:
		log.WithError(err).Error("failed to rename status channel")
		r.metrics.RecordRename("failed")
		r.recordFault(err)
		return
	}
}

// renameFallback runs the two-step permission ladder: retry with the
// glyph-free label, then re-grant our own manage capability on the channel
// and retry the original label.
func (r *Reconciler) renameFallback(ctx context.Context, log *telemetry.Logger, target *store.Target, snap *probe.Snapshot, label string) bool {
	fallback := render.FallbackLabel(snap.Online, target.DisplayName, target.Address, snap.PlayersOnline, snap.PlayersMax)
	if fallback != label {
		current, err := r.rm.StatusChannelLabel(ctx, target.ScopeID, target.StatusChannelID)
		if err == nil && current == fallback {
			return true
		}
		if err := r.rm.RenameStatusChannel(ctx, target.ScopeID, target.StatusChannelID, fallback); err == nil {
			log.Infof("renamed status channel using fallback label %q", fallback)
			r.metrics.RecordRename("fallback")
			return true
		}
	}

	grant := []platform.Capability{platform.CapManageChannels}
	if err := r.rm.GrantCapabilities(ctx, target.ScopeID, target.StatusChannelID, grant); err != nil {
		log.WithError(err).Warn("failed to re-grant manage capability on status channel")
		return false
	}
	if err := r.rm.RenameStatusChannel(ctx, target.ScopeID, target.StatusChannelID, label); err != nil {
		log.WithError(err).Warn("rename still failing after capability re-grant")
		return false
	}

	log.Infof("renamed status channel after capability re-grant")
	r.metrics.RecordRename("regrant")
	return true
}

// rewriteReport refreshes the detail message, recreating it when it has
// vanished and persisting the replacement's reference.
func (r *Reconciler) rewriteReport(ctx context.Context, log *telemetry.Logger, target *store.Target, snap *probe.Snapshot) {
	report := render.Build(snap, target.Address, target.DisplayName)

	if target.DetailMessageID != "" {
		err := r.rm.EditReport(ctx, target.ScopeID, target.DetailChannelID, target.DetailMessageID, report)
		if err == nil {
			return
		}
		if !faults.IsNotFound(err) {
			log.WithError(err).Warn("failed to edit detail message")
			r.recordFault(err)
			return
		}
		log.Debug("detail message gone, recreating")
	}

	messageID, err := r.rm.SendReport(ctx, target.ScopeID, target.DetailChannelID, report)
	if err != nil {
		log.WithError(err).Warn("failed to recreate detail message")
		r.recordFault(err)
		return
	}

	if _, err := r.registry.UpdateDetailMessageRef(ctx, target.ScopeID, target.Key, messageID); err != nil {
		log.WithError(err).Error("failed to persist new detail message reference")
	}
}

func (r *Reconciler) recordFault(err error) {
	r.metrics.RecordFault(string(faults.KindOf(err)))
}
