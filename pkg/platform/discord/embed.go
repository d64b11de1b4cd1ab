package discord

import (
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/whoson/whoson/pkg/render"
)

const (
	colorOnline  = 0x00ff00
	colorOffline = 0xff0000
)

// embedFromReport converts a platform-neutral report into a Discord embed.
func embedFromReport(report *render.Report) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:     report.Title,
		Color:     colorOnline,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Footer:    &discordgo.MessageEmbedFooter{Text: report.Footer},
	}
	if !report.Online {
		embed.Color = colorOffline
		embed.Description = "🔴 **Server Offline**"
	}

	for _, f := range report.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Inline,
		})
	}
	return embed
}
