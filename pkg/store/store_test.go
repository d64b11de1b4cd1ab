package store

import (
	"context"
	"testing"

	"github.com/whoson/whoson/pkg/faults"
	"github.com/whoson/whoson/pkg/probe"
)

// setupTestStore creates an in-memory SQLite registry for testing.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := NewStore(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := s.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testTarget(scope, address string) *Target {
	return &Target{
		ScopeID:         scope,
		Key:             KeyFromAddress(address),
		Address:         address,
		Kind:            probe.KindJava,
		StatusChannelID: "voice-1",
		DetailChannelID: "text-1",
		DetailMessageID: "msg-1",
	}
}

func TestKeyFromAddress(t *testing.T) {
	tests := []struct {
		address string
		want    string
	}{
		{"play.example.com:25565", "play_example_com_25565"},
		{"play.example.com", "play_example_com"},
		{"192.168.1.10:19132", "192_168_1_10_19132"},
		{"mc-eu.example.net", "mc_eu_example_net"},
	}

	for _, tt := range tests {
		if got := KeyFromAddress(tt.address); got != tt.want {
			t.Errorf("KeyFromAddress(%q) = %q, want %q", tt.address, got, tt.want)
		}
	}

	// Deterministic: equal input, equal output.
	if KeyFromAddress("play.example.com") != KeyFromAddress("play.example.com") {
		t.Error("KeyFromAddress is not deterministic")
	}
}

func TestAddAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	in := testTarget("guild-1", "play.example.com")
	in.DisplayName = "Survival"
	if err := s.Add(ctx, in); err != nil {
		t.Fatalf("failed to add target: %v", err)
	}

	got, err := s.Get(ctx, "guild-1", in.Key)
	if err != nil {
		t.Fatalf("failed to get target: %v", err)
	}
	if got.Address != "play.example.com" {
		t.Errorf("address = %q, want %q", got.Address, "play.example.com")
	}
	if got.DisplayName != "Survival" {
		t.Errorf("display name = %q, want %q", got.DisplayName, "Survival")
	}
	if got.Kind != probe.KindJava {
		t.Errorf("kind = %q, want %q", got.Kind, probe.KindJava)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps should be set on add")
	}
}

func TestAddDuplicateKey(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.Add(ctx, testTarget("guild-1", "play.example.com")); err != nil {
		t.Fatalf("first add failed: %v", err)
	}

	err := s.Add(ctx, testTarget("guild-1", "play.example.com"))
	if !faults.IsDuplicateKey(err) {
		t.Fatalf("second add error = %v, want duplicate key fault", err)
	}

	// The registry must be unmodified.
	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("failed to get stats: %v", err)
	}
	if stats.Total != 1 {
		t.Errorf("total = %d, want 1", stats.Total)
	}
}

func TestKeyUniquenessIsPerScope(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.Add(ctx, testTarget("guild-1", "play.example.com")); err != nil {
		t.Fatalf("add in guild-1 failed: %v", err)
	}
	if err := s.Add(ctx, testTarget("guild-2", "play.example.com")); err != nil {
		t.Fatalf("same key in a different scope should be allowed: %v", err)
	}
}

func TestGetMissing(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.Get(context.Background(), "guild-1", "nope")
	if !faults.IsNotFound(err) {
		t.Fatalf("error = %v, want not-found fault", err)
	}
}

func TestRemove(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	in := testTarget("guild-1", "play.example.com")
	if err := s.Add(ctx, in); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	removed, err := s.Remove(ctx, "guild-1", in.Key)
	if err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if !removed {
		t.Error("remove should report true for an existing record")
	}

	removed, err = s.Remove(ctx, "guild-1", in.Key)
	if err != nil {
		t.Fatalf("second remove failed: %v", err)
	}
	if removed {
		t.Error("remove should report false for a missing record")
	}
}

func TestListByScope(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for _, addr := range []string{"a.example.com", "b.example.com"} {
		if err := s.Add(ctx, testTarget("guild-1", addr)); err != nil {
			t.Fatalf("add %s failed: %v", addr, err)
		}
	}
	if err := s.Add(ctx, testTarget("guild-2", "c.example.com")); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	targets, err := s.ListByScope(ctx, "guild-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(targets) != 2 {
		t.Errorf("len = %d, want 2", len(targets))
	}
	if _, ok := targets["a_example_com"]; !ok {
		t.Error("expected a_example_com in listing")
	}
}

func TestListAll(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.Add(ctx, testTarget("guild-1", "a.example.com")); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := s.Add(ctx, testTarget("guild-2", "b.example.com")); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	scopes, err := s.ListAll(ctx)
	if err != nil {
		t.Fatalf("list all failed: %v", err)
	}
	if len(scopes) != 2 {
		t.Errorf("scopes = %d, want 2", len(scopes))
	}
	if len(scopes["guild-1"]) != 1 || len(scopes["guild-2"]) != 1 {
		t.Errorf("unexpected scope contents: %v", scopes)
	}
}

func TestUpdateDetailMessageRef(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	in := testTarget("guild-1", "play.example.com")
	if err := s.Add(ctx, in); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	ok, err := s.UpdateDetailMessageRef(ctx, "guild-1", in.Key, "msg-2")
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if !ok {
		t.Error("update should report true for an existing record")
	}

	got, err := s.Get(ctx, "guild-1", in.Key)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.DetailMessageID != "msg-2" {
		t.Errorf("detail message = %q, want %q", got.DetailMessageID, "msg-2")
	}

	ok, err = s.UpdateDetailMessageRef(ctx, "guild-1", "missing", "msg-3")
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if ok {
		t.Error("update of a missing record should report false")
	}
}

func TestRemoveScope(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for _, addr := range []string{"a.example.com", "b.example.com"} {
		if err := s.Add(ctx, testTarget("guild-1", addr)); err != nil {
			t.Fatalf("add failed: %v", err)
		}
	}
	if err := s.Add(ctx, testTarget("guild-2", "c.example.com")); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	count, err := s.RemoveScope(ctx, "guild-1")
	if err != nil {
		t.Fatalf("remove scope failed: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Total != 1 {
		t.Errorf("remaining = %d, want 1", stats.Total)
	}
}

func TestPruneOrphanedScopes(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for _, scope := range []string{"guild-1", "guild-2", "guild-3"} {
		if err := s.Add(ctx, testTarget(scope, scope+".example.com")); err != nil {
			t.Fatalf("add failed: %v", err)
		}
	}

	count, err := s.PruneOrphanedScopes(ctx, []string{"guild-1", "guild-3"})
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if count != 1 {
		t.Errorf("pruned = %d, want 1", count)
	}

	if _, err := s.Get(ctx, "guild-2", KeyFromAddress("guild-2.example.com")); !faults.IsNotFound(err) {
		t.Errorf("guild-2 target should be pruned, got err = %v", err)
	}
	if _, err := s.Get(ctx, "guild-1", KeyFromAddress("guild-1.example.com")); err != nil {
		t.Errorf("guild-1 target should survive, got err = %v", err)
	}
}

func TestStats(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	java := testTarget("guild-1", "a.example.com")
	if err := s.Add(ctx, java); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	bedrock := testTarget("guild-2", "b.example.com")
	bedrock.Kind = probe.KindBedrock
	if err := s.Add(ctx, bedrock); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Total != 2 {
		t.Errorf("total = %d, want 2", stats.Total)
	}
	if stats.Scopes != 2 {
		t.Errorf("scopes = %d, want 2", stats.Scopes)
	}
	if stats.ByKind[probe.KindJava] != 1 || stats.ByKind[probe.KindBedrock] != 1 {
		t.Errorf("by kind = %v", stats.ByKind)
	}
}
