// Package platform defines the capability interfaces the tracking engine
// needs from the hosting chat platform. The engine core talks only to these
// interfaces; the Discord binding lives in pkg/platform/discord and no
// Discord types leak above it.
package platform

import (
	"context"

	"github.com/whoson/whoson/pkg/render"
)

// Capability names one permission the engine's own principal needs on a
// resource or scope.
type Capability string

const (
	CapManageChannels     Capability = "manage-channels"
	CapManageRoles        Capability = "manage-roles"
	CapViewChannel        Capability = "view-channel"
	CapSendMessages       Capability = "send-messages"
	CapEmbedLinks         Capability = "embed-links"
	CapReadMessageHistory Capability = "read-message-history"
)

// RequiredCapabilities returns the fixed set the engine needs to operate in
// a scope. The permission verifier never requests anything beyond this set.
func RequiredCapabilities() []Capability {
	return []Capability{
		CapManageChannels,
		CapManageRoles,
		CapViewChannel,
		CapSendMessages,
		CapEmbedLinks,
		CapReadMessageHistory,
	}
}

// ResourceManager is the resource-management capability the engine consumes.
// Implementations map faults through pkg/faults: a missing resource surfaces
// as NotFound, a permission rejection as PermissionDenied, and platform
// throttling as RateLimited.
type ResourceManager interface {
	// EnsureCategory finds the named container in the scope, creating it
	// when absent, and returns its ID.
	EnsureCategory(ctx context.Context, scopeID, name string) (string, error)

	// FindCategory looks the named container up without creating it. A
	// missing container surfaces as a NotFound fault.
	FindCategory(ctx context.Context, scopeID, name string) (string, error)

	// CategoryChannelCount reports how many channels remain under the
	// container. Removal uses it to drop an emptied tracking category.
	CategoryChannelCount(ctx context.Context, scopeID, categoryID string) (int, error)

	// CreateStatusChannel creates the occupancy-capped status resource
	// under the container with the given label and returns its ID.
	CreateStatusChannel(ctx context.Context, scopeID, categoryID, label string) (string, error)

	// StatusChannelLabel reads the current observable label of a status
	// resource. The reconciler compares it before renaming.
	StatusChannelLabel(ctx context.Context, scopeID, channelID string) (string, error)

	// RenameStatusChannel sets a new label on a status resource.
	RenameStatusChannel(ctx context.Context, scopeID, channelID, label string) error

	// CreateDetailChannel creates the read-only detail resource under the
	// container and returns its ID.
	CreateDetailChannel(ctx context.Context, scopeID, categoryID, name string) (string, error)

	// DeleteChannel removes any channel, status or detail or category.
	DeleteChannel(ctx context.Context, scopeID, channelID string) error

	// SendReport posts a fresh report into a detail resource and returns
	// the message ID for later edits.
	SendReport(ctx context.Context, scopeID, channelID string, report *render.Report) (string, error)

	// EditReport overwrites an existing report message in place. A
	// vanished message surfaces as a NotFound fault so the caller can
	// recreate it.
	EditReport(ctx context.Context, scopeID, channelID, messageID string, report *render.Report) error

	// MissingCapabilities reports which of the requested capabilities the
	// engine's principal lacks. An empty resourceID checks the scope
	// itself rather than one resource.
	MissingCapabilities(ctx context.Context, scopeID, resourceID string, want []Capability) ([]Capability, error)

	// GrantCapabilities attempts to grant the engine's own principal the
	// given capabilities on a specific resource.
	GrantCapabilities(ctx context.Context, scopeID, resourceID string, grant []Capability) error

	// Scopes lists the scope IDs the engine's principal currently belongs
	// to. Startup pruning uses it to drop orphaned registry rows.
	Scopes(ctx context.Context) ([]string, error)
}
