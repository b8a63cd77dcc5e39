package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/susu3304/anklavbot/internal/directory"
)

// Registry stores participant profiles.
type Registry interface {
	UpsertUser(ctx context.Context, u *directory.User) (bool, error)
}

// Invalidator drops a cached profile.
type Invalidator interface {
	Invalidate(id string)
}

// NewUser maps the invoking Discord user onto a registry record. A guild
// nickname, when set, is used as the first name.
func NewUser(i *discordgo.InteractionCreate) *directory.User {
	u := InteractionUser(i)
	if u == nil {
		return nil
	}
	first := u.Username
	if i.Member != nil && strings.TrimSpace(i.Member.Nick) != "" {
		first = i.Member.Nick
	}
	return &directory.User{
		ID:           u.ID,
		Username:     u.Username,
		FirstName:    first,
		LanguageCode: string(i.Locale),
	}
}

// HandleStart registers the caller and replies with a link to the web app.
func HandleStart(ctx context.Context, s Responder, i *discordgo.InteractionCreate, reg Registry, cache Invalidator, appURL string) error {
	u := NewUser(i)
	if u == nil {
		return respondText(s, i, "Could not identify you, please try again.")
	}
	created, err := reg.UpsertUser(ctx, u)
	if err != nil {
		if rerr := respondText(s, i, "Registration failed, please try again later."); rerr != nil {
			return rerr
		}
		return fmt.Errorf("register user %s: %w", u.ID, err)
	}
	if cache != nil {
		cache.Invalidate(u.ID)
	}

	greeting := "Welcome back!"
	if created {
		greeting = "You're registered!"
	}
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: greeting + " Open the app to take the partnership assessment with your co-founders. " +
				"Your result arrives here once everyone has answered.",
			Flags: ephemeralInGuild(i),
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{
					Components: []discordgo.MessageComponent{
						discordgo.Button{
							Label: "Open app",
							Style: discordgo.LinkButton,
							URL:   appURL,
						},
					},
				},
			},
		},
	})
}
