package render

import (
	"fmt"
	"strings"

	"github.com/whoson/whoson/pkg/probe"
)

// Field is one named section of a detail report.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Report is the platform-neutral detail view of a probe snapshot. The
// platform adapter decides how to present it (Discord renders it as an
// embed).
type Report struct {
	Title  string
	Online bool
	Fields []Field
	Footer string
}

// Build assembles the detail report for one snapshot. Every field value is
// independently capped at MaxFieldRunes; list fields collapse overflow into
// a "+N more" suffix.
func Build(snap *probe.Snapshot, address, displayName string) *Report {
	name := displayName
	if name == "" {
		name = address
	}

	report := &Report{
		Title:  "📊 " + name,
		Online: snap.Online,
		Footer: "Server: " + address,
	}

	if !snap.Online {
		if snap.Err != "" {
			report.Fields = append(report.Fields, Field{
				Name:  "Error",
				Value: clampField(snap.Err),
			})
		}
		return report
	}

	report.Fields = append(report.Fields,
		Field{Name: "Status", Value: glyphOnline + " Online", Inline: true},
		Field{Name: "Players", Value: fmt.Sprintf("%d/%d", snap.PlayersOnline, snap.PlayersMax), Inline: true},
		Field{Name: "Latency", Value: fmt.Sprintf("%.2fms", snap.LatencyMs), Inline: true},
		Field{Name: "Type", Value: kindName(snap.Kind), Inline: true},
		Field{Name: "Version", Value: clampField(versionOrUnknown(snap.Version)), Inline: true},
	)

	if snap.MOTD != "" {
		report.Fields = append(report.Fields, Field{
			Name:  "MOTD",
			Value: clampField(StripColorCodes(snap.MOTD)),
		})
	}

	if snap.Kind == probe.KindJava && len(snap.SamplePlayers) > 0 {
		report.Fields = append(report.Fields, Field{
			Name:  "Online Players",
			Value: joinCapped(snap.SamplePlayers, MaxListedPlayers),
		})
	}

	if ext := snap.Extended; ext != nil {
		if ext.Software != "" {
			report.Fields = append(report.Fields, Field{Name: "Software", Value: clampField(ext.Software), Inline: true})
		}
		if ext.MapName != "" {
			report.Fields = append(report.Fields, Field{Name: "Map", Value: clampField(ext.MapName), Inline: true})
		}
		if ext.GameMode != "" {
			report.Fields = append(report.Fields, Field{Name: "Gamemode", Value: clampField(ext.GameMode), Inline: true})
		}
		if len(ext.Plugins) > 0 {
			report.Fields = append(report.Fields, Field{
				Name:  "Plugins",
				Value: joinCapped(ext.Plugins, MaxListedPlugins),
			})
		}
	}

	return report
}

// joinCapped joins the first cap entries and appends a "+N more" suffix for
// the rest, where N counts every entry beyond the cap.
func joinCapped(entries []string, limit int) string {
	shown := entries
	if len(shown) > limit {
		shown = shown[:limit]
	}

	value := strings.Join(shown, ", ")
	if extra := len(entries) - limit; extra > 0 {
		value += fmt.Sprintf(" +%d more", extra)
	}
	return clampField(value)
}

func kindName(kind probe.Kind) string {
	switch kind {
	case probe.KindJava:
		return "Java"
	case probe.KindBedrock:
		return "Bedrock"
	default:
		return "Unknown"
	}
}

func versionOrUnknown(version string) string {
	if version == "" {
		return "Unknown"
	}
	return version
}
