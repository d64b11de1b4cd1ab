package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/whoson/whoson/pkg/faults"
	"github.com/whoson/whoson/pkg/platform"
	"github.com/whoson/whoson/pkg/probe"
)

func TestAddTargetPersistsRecordAndResources(t *testing.T) {
	rm := newFakeResourceManager()
	prober := &fakeProber{snap: onlineSnapshot(5, 20)}
	svc := newTestService(t, rm, prober, &fakeResolver{})
	ctx := context.Background()

	result, err := svc.AddTarget(ctx, "guild-1", "play.example.com:25565", "Survival", probe.KindJava)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}

	if result.Detected {
		t.Error("explicit kind must not be reported as detected")
	}
	if result.Target.Key != "play_example_com_25565" {
		t.Errorf("key = %q", result.Target.Key)
	}
	if result.Target.StatusChannelID == "" || result.Target.DetailChannelID == "" || result.Target.DetailMessageID == "" {
		t.Errorf("resource refs incomplete: %+v", result.Target)
	}

	// The status channel starts with the pre-reconcile name.
	if got := rm.label(result.Target.StatusChannelID); got != "📊 Survival" {
		t.Errorf("initial channel name = %q", got)
	}
	if got := rm.label(result.Target.DetailChannelID); got != "survival" {
		t.Errorf("detail channel name = %q", got)
	}

	stored, err := svc.registry.Get(ctx, "guild-1", result.Target.Key)
	if err != nil {
		t.Fatalf("record not persisted: %v", err)
	}
	if stored.Kind != probe.KindJava {
		t.Errorf("stored kind = %q", stored.Kind)
	}
}

func TestAddTargetDetailChannelSlug(t *testing.T) {
	rm := newFakeResourceManager()
	svc := newTestService(t, rm, &fakeProber{snap: onlineSnapshot(0, 10)}, &fakeResolver{})

	result, err := svc.AddTarget(context.Background(), "guild-1", "play.example.com:25565", "", probe.KindJava)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if got := rm.label(result.Target.DetailChannelID); got != "play-example-com25565" {
		t.Errorf("detail channel name = %q", got)
	}
}

func TestAddTargetAutoDetect(t *testing.T) {
	rm := newFakeResourceManager()
	resolver := &fakeResolver{kind: probe.KindBedrock}
	svc := newTestService(t, rm, &fakeProber{snap: onlineSnapshot(2, 30)}, resolver)

	result, err := svc.AddTarget(context.Background(), "guild-1", "bedrock.example.com", "", probe.KindUndetermined)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if !result.Detected {
		t.Error("auto-detected add must report Detected")
	}
	if result.Target.Kind != probe.KindBedrock {
		t.Errorf("kind = %q, want bedrock", result.Target.Kind)
	}
	if resolver.calls != 1 {
		t.Errorf("resolver calls = %d, want 1", resolver.calls)
	}
}

func TestAddTargetUndeterminedNothingPersisted(t *testing.T) {
	rm := newFakeResourceManager()
	prober := &fakeProber{snap: onlineSnapshot(0, 0)}
	svc := newTestService(t, rm, prober, &fakeResolver{kind: probe.KindUndetermined})
	ctx := context.Background()

	_, err := svc.AddTarget(ctx, "guild-1", "down.example.com", "", probe.KindUndetermined)
	if !faults.IsUnreachable(err) {
		t.Fatalf("want unreachable fault, got %v", err)
	}

	targets, err := svc.ListTargets(ctx, "guild-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(targets) != 0 {
		t.Errorf("nothing should be persisted, got %d targets", len(targets))
	}
	if prober.calls != 0 {
		t.Errorf("no full probe should run after failed detection, got %d", prober.calls)
	}
	if len(rm.channelLabels) != 0 {
		t.Errorf("no channels should be created, got %v", rm.channelLabels)
	}
}

func TestAddTargetOfflineStillAdded(t *testing.T) {
	rm := newFakeResourceManager()
	prober := &fakeProber{snap: probe.Snapshot{Online: false, Err: "connection refused"}}
	svc := newTestService(t, rm, prober, &fakeResolver{})
	ctx := context.Background()

	result, err := svc.AddTarget(ctx, "guild-1", "down.example.com", "", probe.KindJava)
	if err != nil {
		t.Fatalf("offline target must still be added: %v", err)
	}
	if len(result.Warnings) == 0 {
		t.Error("offline add should carry a warning")
	}
	if _, err := svc.registry.Get(ctx, "guild-1", result.Target.Key); err != nil {
		t.Errorf("record not persisted: %v", err)
	}
}

func TestAddTargetDuplicate(t *testing.T) {
	rm := newFakeResourceManager()
	svc := newTestService(t, rm, &fakeProber{snap: onlineSnapshot(1, 10)}, &fakeResolver{})
	ctx := context.Background()

	if _, err := svc.AddTarget(ctx, "guild-1", "play.example.com", "", probe.KindJava); err != nil {
		t.Fatalf("first add failed: %v", err)
	}
	_, err := svc.AddTarget(ctx, "guild-1", "play.example.com", "", probe.KindJava)
	if !faults.IsDuplicateKey(err) {
		t.Fatalf("want duplicate key fault, got %v", err)
	}
}

func TestAddTargetMissingCapabilities(t *testing.T) {
	rm := newFakeResourceManager()
	rm.missingScope = []platform.Capability{platform.CapManageChannels}
	rm.grantErr = faults.PermissionDenied("cannot self-grant", nil)
	svc := newTestService(t, rm, &fakeProber{snap: onlineSnapshot(1, 10)}, &fakeResolver{})

	_, err := svc.AddTarget(context.Background(), "guild-1", "play.example.com", "", probe.KindJava)
	if !faults.IsPermissionDenied(err) {
		t.Fatalf("want permission denied fault, got %v", err)
	}
	if !strings.Contains(err.Error(), string(platform.CapManageChannels)) {
		t.Errorf("fault should name the missing capability: %v", err)
	}
}

func TestAddTargetSelfRepairsScopeCapabilities(t *testing.T) {
	rm := newFakeResourceManager()
	rm.missingScope = []platform.Capability{platform.CapSendMessages}
	svc := newTestService(t, rm, &fakeProber{snap: onlineSnapshot(1, 10)}, &fakeResolver{})

	// The corrective grant succeeds, so the add goes through.
	if _, err := svc.AddTarget(context.Background(), "guild-1", "play.example.com", "", probe.KindJava); err != nil {
		t.Fatalf("add should succeed after corrective grant: %v", err)
	}
}

func TestRemoveTargetDropsEmptiedCategory(t *testing.T) {
	rm := newFakeResourceManager()
	svc := newTestService(t, rm, &fakeProber{snap: onlineSnapshot(1, 10)}, &fakeResolver{})
	ctx := context.Background()

	result, err := svc.AddTarget(ctx, "guild-1", "play.example.com", "", probe.KindJava)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}

	summary, err := svc.RemoveTarget(ctx, "guild-1", result.Target.Key)
	if err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if !summary.StatusChannelDeleted || !summary.DetailChannelDeleted {
		t.Errorf("channels not deleted: %+v", summary)
	}
	if !summary.CategoryDeleted {
		t.Error("emptied category should be dropped")
	}
	if len(summary.Errors) != 0 {
		t.Errorf("unexpected teardown errors: %v", summary.Errors)
	}

	if _, err := svc.registry.Get(ctx, "guild-1", result.Target.Key); !faults.IsNotFound(err) {
		t.Errorf("record should be gone, got %v", err)
	}
}

func TestRemoveTargetKeepsBusyCategory(t *testing.T) {
	rm := newFakeResourceManager()
	svc := newTestService(t, rm, &fakeProber{snap: onlineSnapshot(1, 10)}, &fakeResolver{})
	ctx := context.Background()

	first, err := svc.AddTarget(ctx, "guild-1", "a.example.com", "", probe.KindJava)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if _, err := svc.AddTarget(ctx, "guild-1", "b.example.com", "", probe.KindJava); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	summary, err := svc.RemoveTarget(ctx, "guild-1", first.Target.Key)
	if err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if summary.CategoryDeleted {
		t.Error("category with remaining channels must not be dropped")
	}
}

func TestRemoveTargetUnknown(t *testing.T) {
	svc := newTestService(t, newFakeResourceManager(), &fakeProber{}, &fakeResolver{})
	_, err := svc.RemoveTarget(context.Background(), "guild-1", "missing")
	if !faults.IsNotFound(err) {
		t.Fatalf("want not found fault, got %v", err)
	}
}

func TestListTargetsOrdered(t *testing.T) {
	rm := newFakeResourceManager()
	svc := newTestService(t, rm, &fakeProber{snap: onlineSnapshot(1, 10)}, &fakeResolver{})
	ctx := context.Background()

	for _, addr := range []string{"c.example.com", "a.example.com", "b.example.com"} {
		if _, err := svc.AddTarget(ctx, "guild-1", addr, "", probe.KindJava); err != nil {
			t.Fatalf("add %s failed: %v", addr, err)
		}
	}

	targets, err := svc.ListTargets(ctx, "guild-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(targets) != 3 {
		t.Fatalf("got %d targets, want 3", len(targets))
	}
	for i := 1; i < len(targets); i++ {
		if targets[i-1].Key >= targets[i].Key {
			t.Errorf("targets not ordered by key: %q before %q", targets[i-1].Key, targets[i].Key)
		}
	}
}

func TestForceReconcileAll(t *testing.T) {
	rm := newFakeResourceManager()
	svc := newTestService(t, rm, &fakeProber{snap: onlineSnapshot(3, 10)}, &fakeResolver{})
	ctx := context.Background()

	for _, addr := range []string{"a.example.com", "b.example.com"} {
		if _, err := svc.AddTarget(ctx, "guild-1", addr, "", probe.KindJava); err != nil {
			t.Fatalf("add failed: %v", err)
		}
	}

	succeeded, failed, err := svc.ForceReconcileAll(ctx, "guild-1")
	if err != nil {
		t.Fatalf("force reconcile failed: %v", err)
	}
	if succeeded != 2 || failed != 0 {
		t.Errorf("succeeded=%d failed=%d, want 2/0", succeeded, failed)
	}
}

func TestCheckAndRepairPermissions(t *testing.T) {
	rm := newFakeResourceManager()
	rm.missingScope = []platform.Capability{platform.CapEmbedLinks}
	svc := newTestService(t, rm, &fakeProber{snap: onlineSnapshot(1, 10)}, &fakeResolver{})
	ctx := context.Background()

	report, err := svc.CheckAndRepairPermissions(ctx, "guild-1")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	// The fake grants successfully, so the repair pass satisfies the set.
	if !report.ScopeSatisfied {
		t.Errorf("scope should be satisfied after repair: %+v", report)
	}
}

func TestRemoveScope(t *testing.T) {
	rm := newFakeResourceManager()
	svc := newTestService(t, rm, &fakeProber{snap: onlineSnapshot(1, 10)}, &fakeResolver{})
	ctx := context.Background()

	if _, err := svc.AddTarget(ctx, "guild-gone", "a.example.com", "", probe.KindJava); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	removed, err := svc.RemoveScope(ctx, "guild-gone")
	if err != nil {
		t.Fatalf("remove scope failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
}

func TestPruneOrphanedScopes(t *testing.T) {
	rm := newFakeResourceManager()
	rm.scopes = []string{"guild-kept"}
	svc := newTestService(t, rm, &fakeProber{snap: onlineSnapshot(1, 10)}, &fakeResolver{})
	ctx := context.Background()

	if _, err := svc.AddTarget(ctx, "guild-kept", "a.example.com", "", probe.KindJava); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if _, err := svc.AddTarget(ctx, "guild-orphan", "b.example.com", "", probe.KindJava); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	pruned, err := svc.PruneOrphanedScopes(ctx)
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}

	kept, err := svc.ListTargets(ctx, "guild-kept")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(kept) != 1 {
		t.Errorf("kept scope lost its target")
	}
}
