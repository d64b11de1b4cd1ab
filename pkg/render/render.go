// Package render produces the status labels and detail reports shown for a
// tracked server. Everything here is pure: identical inputs yield identical
// output, and no network or clock access happens during rendering.
package render

import (
	"fmt"
	"regexp"
)

const (
	// MaxLabelRunes is the hard cap the platform enforces on resource names.
	MaxLabelRunes = 100

	labelKeepRunes = 97

	// MaxFieldRunes is the per-field value cap for detail reports.
	MaxFieldRunes = 1024

	// MaxListedPlayers and MaxListedPlugins bound the list-type report
	// fields; entries beyond the cap collapse into a "+N more" suffix.
	MaxListedPlayers = 20
	MaxListedPlugins = 5

	glyphOnline  = "🟢"
	glyphOffline = "🔴"
)

// colorCodePattern matches Minecraft legacy formatting sequences in MOTD text.
var colorCodePattern = regexp.MustCompile(`§[0-9a-fklmnor]`)

// Label renders the status-channel name for a target. The display name falls
// back to the address when empty.
func Label(online bool, displayName, address string, playersOnline, playersMax int) string {
	name := displayName
	if name == "" {
		name = address
	}

	var label string
	if online {
		label = fmt.Sprintf("%s %s: %d/%d", glyphOnline, name, playersOnline, playersMax)
	} else {
		label = fmt.Sprintf("%s %s: Offline", glyphOffline, name)
	}

	return clampLabel(label)
}

// FallbackLabel renders the glyph-free form used when the platform rejects
// the decorated name. The online state moves into a textual suffix so the
// label still distinguishes up from down.
func FallbackLabel(online bool, displayName, address string, playersOnline, playersMax int) string {
	name := displayName
	if name == "" {
		name = address
	}

	var label string
	if online {
		label = fmt.Sprintf("%s: %d/%d (Online)", name, playersOnline, playersMax)
	} else {
		label = fmt.Sprintf("%s: Offline", name)
	}

	return clampLabel(label)
}

// StripColorCodes removes legacy § formatting sequences from MOTD text.
func StripColorCodes(s string) string {
	return colorCodePattern.ReplaceAllString(s, "")
}

// clampLabel truncates over-long labels to 97 runes plus an ellipsis marker.
// Rune counting matters here: the status glyphs are multi-byte.
func clampLabel(label string) string {
	runes := []rune(label)
	if len(runes) <= MaxLabelRunes {
		return label
	}
	return string(runes[:labelKeepRunes]) + "..."
}

// clampField hard-truncates a field value to the report field cap.
func clampField(value string) string {
	runes := []rune(value)
	if len(runes) <= MaxFieldRunes {
		return value
	}
	return string(runes[:MaxFieldRunes])
}
