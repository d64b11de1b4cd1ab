package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/whoson/whoson/pkg/faults"
	"github.com/whoson/whoson/pkg/platform"
	"github.com/whoson/whoson/pkg/probe"
	"github.com/whoson/whoson/pkg/render"
	"github.com/whoson/whoson/pkg/store"
	"github.com/whoson/whoson/pkg/telemetry"
)

// fakeResourceManager is an in-memory platform.ResourceManager with knobs
// for injecting permission and rate-limit faults.
type fakeResourceManager struct {
	mu     sync.Mutex
	nextID int

	categories      map[string]string // "scope/name" -> category ID
	channelLabels   map[string]string // channel ID -> label
	channelCategory map[string]string // channel ID -> category ID
	messages        map[string]*render.Report
	deleted         []string

	renameAttempts []string
	sendCount      int
	granted        []string

	// Fault injection.
	denyGlyphRenames        bool
	denyRenamesWithoutGrant bool
	rateLimitRenames        bool
	grantErr                error
	missingScope            []platform.Capability

	scopes []string
}

func newFakeResourceManager() *fakeResourceManager {
	return &fakeResourceManager{
		categories:      make(map[string]string),
		channelLabels:   make(map[string]string),
		channelCategory: make(map[string]string),
		messages:        make(map[string]*render.Report),
	}
}

func (f *fakeResourceManager) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeResourceManager) EnsureCategory(_ context.Context, scopeID, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := scopeID + "/" + name
	if id, ok := f.categories[key]; ok {
		return id, nil
	}
	id := f.id("cat")
	f.categories[key] = id
	return id, nil
}

func (f *fakeResourceManager) FindCategory(_ context.Context, scopeID, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.categories[scopeID+"/"+name]; ok {
		return id, nil
	}
	return "", faults.NotFound("category not found", nil)
}

func (f *fakeResourceManager) CategoryChannelCount(_ context.Context, _, categoryID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, cat := range f.channelCategory {
		if cat == categoryID {
			count++
		}
	}
	return count, nil
}

func (f *fakeResourceManager) CreateStatusChannel(_ context.Context, _, categoryID, label string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.id("voice")
	f.channelLabels[id] = label
	f.channelCategory[id] = categoryID
	return id, nil
}

func (f *fakeResourceManager) StatusChannelLabel(_ context.Context, _, channelID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	label, ok := f.channelLabels[channelID]
	if !ok {
		return "", faults.NotFound("channel not found", nil)
	}
	return label, nil
}

func (f *fakeResourceManager) RenameStatusChannel(_ context.Context, _, channelID, label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renameAttempts = append(f.renameAttempts, label)

	if f.rateLimitRenames {
		return faults.RateLimited("throttled", nil)
	}
	if f.denyRenamesWithoutGrant && !containsString(f.granted, channelID) {
		return faults.PermissionDenied("denied", nil)
	}
	if f.denyGlyphRenames && strings.ContainsAny(label, "🟢🔴") {
		return faults.PermissionDenied("denied", nil)
	}
	if _, ok := f.channelLabels[channelID]; !ok {
		return faults.NotFound("channel not found", nil)
	}
	f.channelLabels[channelID] = label
	return nil
}

func (f *fakeResourceManager) CreateDetailChannel(_ context.Context, _, categoryID, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.id("text")
	f.channelLabels[id] = name
	f.channelCategory[id] = categoryID
	return id, nil
}

func (f *fakeResourceManager) DeleteChannel(_ context.Context, _, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	isCategory := false
	for _, id := range f.categories {
		if id == channelID {
			isCategory = true
		}
	}
	if _, ok := f.channelLabels[channelID]; !ok && !isCategory {
		return faults.NotFound("channel not found", nil)
	}
	delete(f.channelLabels, channelID)
	delete(f.channelCategory, channelID)
	for key, id := range f.categories {
		if id == channelID {
			delete(f.categories, key)
		}
	}
	f.deleted = append(f.deleted, channelID)
	return nil
}

func (f *fakeResourceManager) SendReport(_ context.Context, _, channelID string, report *render.Report) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.channelLabels[channelID]; !ok {
		return "", faults.NotFound("channel not found", nil)
	}
	f.sendCount++
	id := f.id("msg")
	f.messages[id] = report
	return id, nil
}

func (f *fakeResourceManager) EditReport(_ context.Context, _, _, messageID string, report *render.Report) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.messages[messageID]; !ok {
		return faults.NotFound("message not found", nil)
	}
	f.messages[messageID] = report
	return nil
}

func (f *fakeResourceManager) MissingCapabilities(_ context.Context, _, resourceID string, want []platform.Capability) ([]platform.Capability, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if resourceID != "" {
		return nil, nil
	}
	var missing []platform.Capability
	for _, c := range f.missingScope {
		for _, w := range want {
			if c == w {
				missing = append(missing, c)
			}
		}
	}
	return missing, nil
}

func (f *fakeResourceManager) GrantCapabilities(_ context.Context, _, resourceID string, _ []platform.Capability) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.grantErr != nil {
		return f.grantErr
	}
	if resourceID == "" {
		f.missingScope = nil
	} else {
		f.granted = append(f.granted, resourceID)
	}
	return nil
}

func (f *fakeResourceManager) Scopes(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.scopes...), nil
}

func (f *fakeResourceManager) label(channelID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channelLabels[channelID]
}

func (f *fakeResourceManager) renameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.renameAttempts)
}

func (f *fakeResourceManager) dropMessage(messageID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.messages, messageID)
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// fakeProber returns canned snapshots.
type fakeProber struct {
	mu    sync.Mutex
	snap  probe.Snapshot
	err   error
	calls int
}

func (p *fakeProber) Probe(_ context.Context, _ string, kind probe.Kind) (*probe.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	snap := p.snap
	snap.Kind = kind
	return &snap, nil
}

func onlineSnapshot(on, max int) probe.Snapshot {
	return probe.Snapshot{
		Online:        true,
		PlayersOnline: on,
		PlayersMax:    max,
		LatencyMs:     10,
		Version:       "1.21.4",
		MOTD:          "welcome",
	}
}

// fakeResolver returns a fixed detection result.
type fakeResolver struct {
	kind  probe.Kind
	calls int
}

func (r *fakeResolver) Resolve(_ context.Context, _ string) probe.Kind {
	r.calls++
	return r.kind
}

func testLogger(t *testing.T) *telemetry.Logger {
	t.Helper()
	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{Level: "error", Output: "stderr"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return logger
}

func testMetrics(t *testing.T) *telemetry.Metrics {
	t.Helper()
	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	return metrics
}

func testRegistry(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.NewStore(store.Config{Path: ":memory:"})
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

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CycleInterval = 20 * time.Millisecond
	cfg.TargetSpacing = 0
	cfg.RestartCooldown = 10 * time.Millisecond
	cfg.ProbeTimeout = time.Second
	return cfg
}

func newTestService(t *testing.T, rm *fakeResourceManager, prober *fakeProber, resolver *fakeResolver) *Service {
	t.Helper()
	return NewService(testConfig(), testRegistry(t), rm, prober, resolver, testLogger(t), testMetrics(t))
}
