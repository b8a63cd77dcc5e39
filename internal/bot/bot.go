package bot

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/susu3304/anklavbot/internal/commands"
	"github.com/susu3304/anklavbot/internal/message"
)

// ActionHandler receives participant button presses.
type ActionHandler interface {
	Handle(ctx context.Context, participantID string, action message.Action) error
}

type Bot struct {
	session       *discordgo.Session
	gateway       *Gateway
	users         commands.Registry
	cache         commands.Invalidator
	conversations ActionHandler
	appURL        string
	logger        *zap.Logger
}

// New creates the session and its gateway. Call HandleActions before Start
// so button presses reach the conversation manager.
func New(token string, users commands.Registry, cache commands.Invalidator, appURL string, notifyRate float64, logger *zap.Logger) (*Bot, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	bot := &Bot{
		session: session,
		gateway: NewGateway(session, notifyRate, logger),
		users:   users,
		cache:   cache,
		appURL:  appURL,
		logger:  logger.Named("bot"),
	}

	// Register event handlers
	session.AddHandler(bot.onReady)
	session.AddHandler(bot.onInteractionCreate)

	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsDirectMessages

	return bot, nil
}

// Gateway is the notification gateway backed by this bot's session.
func (b *Bot) Gateway() *Gateway {
	return b.gateway
}

func (b *Bot) HandleActions(h ActionHandler) {
	b.conversations = h
}

func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	b.logger.Info("discord bot is running")
	return nil
}

func (b *Bot) Stop() error {
	return b.session.Close()
}
