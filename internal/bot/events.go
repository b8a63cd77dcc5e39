package bot

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/susu3304/anklavbot/internal/commands"
	"github.com/susu3304/anklavbot/internal/conversation"
	"github.com/susu3304/anklavbot/internal/message"
)

const interactionTimeout = 30 * time.Second

func (b *Bot) onReady(s *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("connected", zap.String("user", event.User.Username))

	// Global commands, so /start also works in DMs
	if _, err := s.ApplicationCommandBulkOverwrite(event.User.ID, "", commands.GetCommands()); err != nil {
		b.logger.Error("failed to register application commands", zap.Error(err))
	}
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
	defer cancel()

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		b.handleApplicationCommand(ctx, s, i)
	case discordgo.InteractionMessageComponent:
		b.handleComponent(ctx, s, i)
	}
}

func (b *Bot) handleApplicationCommand(ctx context.Context, s commands.Responder, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()

	switch data.Name {
	case "start":
		if err := commands.HandleStart(ctx, s, i, b.users, b.cache, b.appURL); err != nil {
			b.logger.Error("start command failed", zap.Error(err))
		}
	}
}

// handleComponent routes a button press to the conversation manager. The
// buttons are removed from the pressed message first so a second press
// cannot race the first.
func (b *Bot) handleComponent(ctx context.Context, s commands.Responder, i *discordgo.InteractionCreate) {
	action, ok := message.ParseToken(i.MessageComponentData().CustomID)
	if !ok {
		return
	}
	user := commands.InteractionUser(i)
	if user == nil {
		return
	}

	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Components: []discordgo.MessageComponent{},
		},
	})
	if err != nil {
		b.logger.Warn("failed to acknowledge button", zap.String("participant", user.ID), zap.Error(err))
	}

	if b.conversations == nil {
		return
	}
	err = b.conversations.Handle(ctx, user.ID, action)
	switch {
	case err == nil:
	case errors.Is(err, conversation.ErrNoConversation), errors.Is(err, conversation.ErrUnexpectedAction):
		b.logger.Debug("stale action ignored", zap.String("participant", user.ID), zap.String("action", string(action)), zap.Error(err))
	default:
		b.logger.Error("action failed", zap.String("participant", user.ID), zap.String("phase", "conversation"), zap.Error(err))
	}
}
