package commands

import (
	"github.com/bwmarrin/discordgo"
)

// Responder is the part of *discordgo.Session the handlers use.
type Responder interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
}

// InteractionUser returns the invoking user for both guild and DM
// interactions.
func InteractionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

func respondText(s Responder, i *discordgo.InteractionCreate, content string) error {
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   ephemeralInGuild(i),
		},
	})
}

func ephemeralInGuild(i *discordgo.InteractionCreate) discordgo.MessageFlags {
	if i.GuildID != "" {
		return discordgo.MessageFlagsEphemeral
	}
	return 0
}
