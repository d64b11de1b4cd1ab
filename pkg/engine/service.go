package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/whoson/whoson/pkg/faults"
	"github.com/whoson/whoson/pkg/platform"
	"github.com/whoson/whoson/pkg/probe"
	"github.com/whoson/whoson/pkg/render"
	"github.com/whoson/whoson/pkg/store"
	"github.com/whoson/whoson/pkg/telemetry"
)

// Service is the tracking engine's upward-facing API. The command layer
// calls it; it owns the reconciler, scheduler and permission verifier.
type Service struct {
	cfg      Config
	registry *store.Store
	rm       platform.ResourceManager
	prober   StatusProber
	resolver KindResolver

	reconciler *Reconciler
	scheduler  *Scheduler
	verifier   *Verifier

	logger  *telemetry.Logger
	metrics *telemetry.Metrics
}

// NewService wires the engine together.
func NewService(
	cfg Config,
	registry *store.Store,
	rm platform.ResourceManager,
	prober StatusProber,
	resolver KindResolver,
	logger *telemetry.Logger,
	metrics *telemetry.Metrics,
) *Service {
	reconciler := NewReconciler(registry, rm, prober, logger, metrics)
	return &Service{
		cfg:        cfg,
		registry:   registry,
		rm:         rm,
		prober:     prober,
		resolver:   resolver,
		reconciler: reconciler,
		scheduler:  NewScheduler(cfg, registry, reconciler, logger, metrics),
		verifier:   NewVerifier(rm, logger),
		logger:     logger.NewComponentLogger("engine"),
		metrics:    metrics,
	}
}

// StartScheduler begins the periodic reconciliation loop.
func (s *Service) StartScheduler() { s.scheduler.Start() }

// StopScheduler stops the loop, letting any in-flight reconciliation finish.
func (s *Service) StopScheduler() { s.scheduler.Stop() }

// SchedulerStatus is the loop introspection snapshot.
type SchedulerStatus struct {
	Running    bool
	CycleCount uint64
	NextRun    time.Time
}

// SchedulerStatus reports the current loop state.
func (s *Service) SchedulerStatus() SchedulerStatus {
	return SchedulerStatus{
		Running:    s.scheduler.IsRunning(),
		CycleCount: s.scheduler.CycleCount(),
		NextRun:    s.scheduler.NextRun(),
	}
}

// AddResult describes a completed AddTarget call.
type AddResult struct {
	Target *store.Target

	// Snapshot is the add-time probe result. An offline server is still
	// added; callers surface the offline state as a warning.
	Snapshot *probe.Snapshot

	// Detected is true when the protocol kind was auto-resolved rather
	// than supplied by the caller.
	Detected bool

	// Warnings carries non-fatal setup problems, such as a status channel
	// the engine could not secure manage rights on.
	Warnings []string
}

// AddTarget registers a new tracked server in a scope. The protocol kind is
// auto-detected when left undetermined; if neither protocol answers, the
// call fails with an Unreachable fault and nothing is persisted. External
// resources are created before the registry record.
func (s *Service) AddTarget(ctx context.Context, scopeID, address, displayName string, kind probe.Kind) (*AddResult, error) {
	key := store.KeyFromAddress(address)
	log := s.logger.WithScope(scopeID).WithAddress(address)

	if _, err := s.registry.Get(ctx, scopeID, key); err == nil {
		return nil, faults.DuplicateKey(fmt.Sprintf("server %s is already tracked", address), nil).
			WithResource(key).WithOperation("add_target")
	} else if !faults.IsNotFound(err) {
		return nil, err
	}

	satisfied, missing, err := s.verifier.Verify(ctx, scopeID, "")
	if err != nil {
		return nil, err
	}
	if !satisfied {
		return nil, faults.PermissionDenied(fmt.Sprintf("missing capabilities: %s", joinCapabilities(missing)), nil).
			WithOperation("add_target")
	}

	result := &AddResult{}

	if !kind.Valid() {
		kind = s.resolver.Resolve(ctx, address)
		if kind == probe.KindUndetermined {
			s.metrics.RecordFault(string(faults.KindUnreachable))
			return nil, faults.Unreachable(fmt.Sprintf("server not found at %s", address), nil).
				WithOperation("add_target")
		}
		result.Detected = true
		log.Infof("auto-detected %s server", kind)
	}

	snap, err := s.prober.Probe(ctx, address, kind)
	if err != nil {
		return nil, err
	}
	result.Snapshot = snap
	if !snap.Online {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("server appears offline (%s), adding it anyway", snap.Err))
	}

	categoryID, err := s.rm.EnsureCategory(ctx, scopeID, s.cfg.CategoryName)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure tracking category: %w", err)
	}

	name := displayName
	if name == "" {
		name = address
	}

	statusChannelID, err := s.rm.CreateStatusChannel(ctx, scopeID, categoryID, "📊 "+name)
	if err != nil {
		return nil, fmt.Errorf("failed to create status channel: %w", err)
	}

	if warning := s.secureChannel(ctx, scopeID, statusChannelID); warning != "" {
		result.Warnings = append(result.Warnings, warning)
	}

	detailChannelID, err := s.rm.CreateDetailChannel(ctx, scopeID, categoryID, detailChannelName(name))
	if err != nil {
		s.cleanupChannels(ctx, scopeID, statusChannelID)
		return nil, fmt.Errorf("failed to create detail channel: %w", err)
	}

	messageID, err := s.rm.SendReport(ctx, scopeID, detailChannelID, render.Build(snap, address, displayName))
	if err != nil {
		s.cleanupChannels(ctx, scopeID, statusChannelID, detailChannelID)
		return nil, fmt.Errorf("failed to send initial report: %w", err)
	}

	target := &store.Target{
		ScopeID:         scopeID,
		Key:             key,
		Address:         address,
		DisplayName:     displayName,
		Kind:            kind,
		StatusChannelID: statusChannelID,
		DetailChannelID: detailChannelID,
		DetailMessageID: messageID,
	}
	if err := s.registry.Add(ctx, target); err != nil {
		s.cleanupChannels(ctx, scopeID, statusChannelID, detailChannelID)
		return nil, err
	}
	result.Target = target

	s.refreshTrackedCounts(ctx)
	log.WithTarget(key).Info("server added")
	return result, nil
}

// secureChannel verifies the engine can manage the channel it just created,
// attempting one self-grant. The returned warning is empty on success.
func (s *Service) secureChannel(ctx context.Context, scopeID, channelID string) string {
	want := []platform.Capability{platform.CapManageChannels}
	missing, err := s.rm.MissingCapabilities(ctx, scopeID, channelID, want)
	if err != nil || len(missing) == 0 {
		return ""
	}
	if err := s.rm.GrantCapabilities(ctx, scopeID, channelID, want); err != nil {
		return "could not ensure manage rights on the status channel, renames may fail"
	}
	return ""
}

// cleanupChannels best-effort deletes partially created resources so a
// failed add leaves no orphans behind.
func (s *Service) cleanupChannels(ctx context.Context, scopeID string, channelIDs ...string) {
	for _, id := range channelIDs {
		if err := s.rm.DeleteChannel(ctx, scopeID, id); err != nil && !faults.IsNotFound(err) {
			s.logger.WithScope(scopeID).WithError(err).Warn("failed to clean up channel after aborted add")
		}
	}
}

// RemovalSummary describes what RemoveTarget managed to tear down.
type RemovalSummary struct {
	Target               *store.Target
	StatusChannelDeleted bool
	DetailChannelDeleted bool

	// CategoryDeleted is true when this was the scope's last target and
	// the emptied tracking category was dropped too.
	CategoryDeleted bool

	// Errors collects non-fatal teardown failures. The registry record is
	// removed regardless.
	Errors []string
}

// RemoveTarget stops tracking a server: deletes its channels, removes the
// registry record, and drops the tracking category when it ends up empty.
func (s *Service) RemoveTarget(ctx context.Context, scopeID, key string) (*RemovalSummary, error) {
	target, err := s.registry.Get(ctx, scopeID, key)
	if err != nil {
		return nil, err
	}

	summary := &RemovalSummary{Target: target}
	log := s.logger.WithScope(scopeID).WithTarget(key)

	if err := s.rm.DeleteChannel(ctx, scopeID, target.StatusChannelID); err != nil && !faults.IsNotFound(err) {
		summary.Errors = append(summary.Errors, fmt.Sprintf("status channel: %v", err))
	} else {
		summary.StatusChannelDeleted = true
	}

	if err := s.rm.DeleteChannel(ctx, scopeID, target.DetailChannelID); err != nil && !faults.IsNotFound(err) {
		summary.Errors = append(summary.Errors, fmt.Sprintf("detail channel: %v", err))
	} else {
		summary.DetailChannelDeleted = true
	}

	if _, err := s.registry.Remove(ctx, scopeID, key); err != nil {
		return nil, err
	}

	summary.CategoryDeleted = s.pruneEmptyCategory(ctx, scopeID, summary)

	s.refreshTrackedCounts(ctx)
	log.Info("server removed")
	return summary, nil
}

// pruneEmptyCategory drops the tracking category when no channels remain
// under it. A category holding unrelated channels is left alone.
func (s *Service) pruneEmptyCategory(ctx context.Context, scopeID string, summary *RemovalSummary) bool {
	categoryID, err := s.rm.FindCategory(ctx, scopeID, s.cfg.CategoryName)
	if err != nil {
		if !faults.IsNotFound(err) {
			summary.Errors = append(summary.Errors, fmt.Sprintf("category lookup: %v", err))
		}
		return false
	}

	count, err := s.rm.CategoryChannelCount(ctx, scopeID, categoryID)
	if err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("category: %v", err))
		return false
	}
	if count > 0 {
		return false
	}

	if err := s.rm.DeleteChannel(ctx, scopeID, categoryID); err != nil && !faults.IsNotFound(err) {
		summary.Errors = append(summary.Errors, fmt.Sprintf("category: %v", err))
		return false
	}
	return true
}

// ListTargets returns the scope's tracked servers ordered by key.
func (s *Service) ListTargets(ctx context.Context, scopeID string) ([]*store.Target, error) {
	byKey, err := s.registry.ListByScope(ctx, scopeID)
	if err != nil {
		return nil, err
	}

	targets := make([]*store.Target, 0, len(byKey))
	for _, t := range byKey {
		targets = append(targets, t)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].Key < targets[j].Key })
	return targets, nil
}

// ForceReconcileAll reconciles every target in a scope immediately,
// independent of the scheduler's cycle.
func (s *Service) ForceReconcileAll(ctx context.Context, scopeID string) (succeeded, failed int, err error) {
	byKey, err := s.registry.ListByScope(ctx, scopeID)
	if err != nil {
		return 0, 0, err
	}

	keys := make([]string, 0, len(byKey))
	for key := range byKey {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if err := s.reconciler.Reconcile(ctx, scopeID, key); err != nil {
			if ctx.Err() != nil {
				return succeeded, failed, ctx.Err()
			}
			failed++
			continue
		}
		succeeded++
	}
	return succeeded, failed, nil
}

// ChannelPermissionStatus is the per-channel slice of a permission report.
type ChannelPermissionStatus struct {
	Key       string
	ChannelID string
	Satisfied bool
	Missing   []platform.Capability
}

// PermissionReport describes the scope's capability health after a
// check-and-repair pass.
type PermissionReport struct {
	ScopeSatisfied bool
	ScopeMissing   []platform.Capability
	Channels       []ChannelPermissionStatus
}

// CheckAndRepairPermissions verifies the scope-wide capability set and each
// tracked status channel, attempting one corrective grant per resource.
func (s *Service) CheckAndRepairPermissions(ctx context.Context, scopeID string) (*PermissionReport, error) {
	report := &PermissionReport{}

	satisfied, missing, err := s.verifier.Verify(ctx, scopeID, "")
	if err != nil {
		return nil, err
	}
	report.ScopeSatisfied = satisfied
	report.ScopeMissing = missing

	targets, err := s.ListTargets(ctx, scopeID)
	if err != nil {
		return nil, err
	}
	for _, t := range targets {
		ok, missing, err := s.verifier.Verify(ctx, scopeID, t.StatusChannelID)
		if err != nil {
			return nil, err
		}
		report.Channels = append(report.Channels, ChannelPermissionStatus{
			Key:       t.Key,
			ChannelID: t.StatusChannelID,
			Satisfied: ok,
			Missing:   missing,
		})
	}
	return report, nil
}

// RemoveScope drops every record for a scope the engine no longer belongs
// to. The external resources are unreachable at that point, so only the
// registry is touched.
func (s *Service) RemoveScope(ctx context.Context, scopeID string) (int64, error) {
	removed, err := s.registry.RemoveScope(ctx, scopeID)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.WithScope(scopeID).Infof("removed %d targets for departed scope", removed)
	}
	s.refreshTrackedCounts(ctx)
	return removed, nil
}

// PruneOrphanedScopes removes records for scopes the engine's principal no
// longer belongs to. Runs at startup before the scheduler begins.
func (s *Service) PruneOrphanedScopes(ctx context.Context) (int64, error) {
	scopes, err := s.rm.Scopes(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list scopes: %w", err)
	}

	pruned, err := s.registry.PruneOrphanedScopes(ctx, scopes)
	if err != nil {
		return 0, err
	}
	if pruned > 0 {
		s.logger.Infof("pruned %d orphaned targets", pruned)
	}
	s.refreshTrackedCounts(ctx)
	return pruned, nil
}

// Stats returns registry-wide tracking statistics.
func (s *Service) Stats(ctx context.Context) (*store.Stats, error) {
	return s.registry.Stats(ctx)
}

func (s *Service) refreshTrackedCounts(ctx context.Context) {
	stats, err := s.registry.Stats(ctx)
	if err != nil {
		return
	}
	s.metrics.SetTrackedCounts(stats.Total, stats.Scopes)
}

// detailChannelName derives the detail channel's name the same way status
// pages commonly slug names: lowercase, spaces and dots become dashes, the
// port separator drops out.
func detailChannelName(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, " ", "-")
	name = strings.ReplaceAll(name, ".", "-")
	name = strings.ReplaceAll(name, ":", "")
	return name
}

func joinCapabilities(caps []platform.Capability) string {
	parts := make([]string, len(caps))
	for i, c := range caps {
		parts[i] = string(c)
	}
	return strings.Join(parts, ", ")
}
