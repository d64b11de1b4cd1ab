package store

import (
	"time"

	"github.com/whoson/whoson/pkg/probe"
)

// Target is one tracked game server persisted in the registry.
// Identity is (ScopeID, Key); Key is derived from Address by KeyFromAddress.
type Target struct {
	// ScopeID is the guild the target belongs to.
	ScopeID string

	// Key is the scope-unique registry key derived from Address.
	Key string

	// Address is the server address as the user supplied it (host[:port]).
	Address string

	// DisplayName is an optional user-supplied alias shown instead of
	// the address.
	DisplayName string

	// Kind is the protocol family used to probe the server.
	Kind probe.Kind

	// StatusChannelID is the voice channel whose name mirrors the status.
	StatusChannelID string

	// DetailChannelID is the text channel holding the status message.
	DetailChannelID string

	// DetailMessageID is the status message inside DetailChannelID. It is
	// rewritten when the underlying message disappears.
	DetailMessageID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Name returns the display name, falling back to the address.
func (t *Target) Name() string {
	if t.DisplayName != "" {
		return t.DisplayName
	}
	return t.Address
}

// Stats summarizes the registry contents.
type Stats struct {
	// Total is the number of tracked targets across all scopes.
	Total int

	// ByKind counts targets per protocol kind.
	ByKind map[probe.Kind]int

	// Scopes is the number of distinct scopes with at least one target.
	Scopes int
}

// Config holds store configuration.
type Config struct {
	// Path is the SQLite database file path, or ":memory:" for tests.
	Path string `yaml:"path" validate:"required"`
}
