package bot

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/susu3304/anklavbot/internal/message"
)

// gatewaySession is the part of *discordgo.Session the gateway needs.
type gatewaySession interface {
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Gateway delivers structured messages as Discord DMs or channel posts.
type Gateway struct {
	session gatewaySession
	limiter *rate.Limiter
	logger  *zap.Logger

	mu         sync.Mutex
	dmChannels map[string]string

	attemptTimeout time.Duration
	maxAttempts    int
	backoff        func() time.Duration
}

// NewGateway allows perSecond messages per second with a burst of the same
// size.
func NewGateway(session gatewaySession, perSecond float64, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return &Gateway{
		session:        session,
		limiter:        rate.NewLimiter(rate.Limit(perSecond), burst),
		logger:         logger.Named("gateway"),
		dmChannels:     make(map[string]string),
		attemptTimeout: 12 * time.Second,
		maxAttempts:    2,
		backoff: func() time.Duration {
			return time.Duration(300+rand.Intn(500)) * time.Millisecond
		},
	}
}

func (g *Gateway) Send(ctx context.Context, to message.Recipient, msg message.Message) error {
	channelID, err := g.resolve(ctx, to)
	if err != nil {
		return err
	}
	for _, part := range render(msg) {
		if err := g.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("send to %s: %w", to, err)
		}
		if err := g.sendWithRetry(ctx, channelID, part); err != nil {
			return fmt.Errorf("send to %s: %w", to, err)
		}
	}
	g.logger.Debug("message delivered", zap.Stringer("to", to), zap.String("title", msg.Title))
	return nil
}

func (g *Gateway) resolve(ctx context.Context, to message.Recipient) (string, error) {
	if to.ChannelID != "" {
		return to.ChannelID, nil
	}
	if to.UserID == "" {
		return "", errors.New("recipient has neither user nor channel")
	}
	g.mu.Lock()
	id, ok := g.dmChannels[to.UserID]
	g.mu.Unlock()
	if ok {
		return id, nil
	}
	ch, err := g.session.UserChannelCreate(to.UserID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("open DM with %s: %w", to.UserID, err)
	}
	g.mu.Lock()
	g.dmChannels[to.UserID] = ch.ID
	g.mu.Unlock()
	return ch.ID, nil
}

func (g *Gateway) sendWithRetry(ctx context.Context, channelID string, data *discordgo.MessageSend) error {
	var lastErr error
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, g.attemptTimeout)
		_, err := g.session.ChannelMessageSendComplex(channelID, data, discordgo.WithContext(sendCtx))
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTemporaryOrTimeout(err) || attempt == g.maxAttempts {
			return err
		}
		select {
		case <-time.After(g.backoff()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

func isTemporaryOrTimeout(err error) bool {
	if err == nil {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}
