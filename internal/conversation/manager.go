// Package conversation runs the per-participant follow-up after a result has
// been delivered.
//
// Pending timeouts live only in the manager's in-memory table; a process
// restart drops them.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/susu3304/anklavbot/internal/directory"
	"github.com/susu3304/anklavbot/internal/equity"
	"github.com/susu3304/anklavbot/internal/message"
	"github.com/susu3304/anklavbot/internal/metrics"
)

const (
	DefaultTimeout     = 5 * time.Minute
	defaultSendTimeout = 15 * time.Second
)

var (
	ErrNoConversation   = errors.New("no active conversation")
	ErrUnexpectedAction = errors.New("action not valid in current state")
)

// Sender delivers one message. Implemented by the notification gateway.
type Sender interface {
	Send(ctx context.Context, to message.Recipient, msg message.Message) error
}

// Participant is everything a conversation needs to reply and, if asked, to
// compose a lead notification without going back to storage.
type Participant struct {
	Profile directory.Profile
	Member  string
	Archive *equity.Archived
}

type conversation struct {
	p     Participant
	state State
	gen   uint64
	timer clockwork.Timer
}

// Manager owns the conversation table. Clock methods are never called with
// mu held: a fake clock may run timer callbacks while holding its own lock.
type Manager struct {
	mu      sync.Mutex
	convs   map[string]*conversation
	lastGen uint64

	sender      Sender
	clock       clockwork.Clock
	timeout     time.Duration
	sendTimeout time.Duration
	leadChannel string
	logger      *zap.Logger
	metrics     *metrics.Manager
}

type Option func(*Manager)

func WithClock(c clockwork.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithLeadChannel sets the operator channel that receives lead notifications.
func WithLeadChannel(id string) Option {
	return func(m *Manager) { m.leadChannel = id }
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func WithMetrics(mm *metrics.Manager) Option {
	return func(m *Manager) { m.metrics = mm }
}

func NewManager(sender Sender, opts ...Option) *Manager {
	m := &Manager{
		convs:       make(map[string]*conversation),
		sender:      sender,
		clock:       clockwork.NewRealClock(),
		timeout:     DefaultTimeout,
		sendTimeout: defaultSendTimeout,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("conversation")
	return m
}

// Start opens a conversation for p, replacing any conversation the same
// participant already has. The result message itself carries the choice
// buttons, so the conversation moves straight to AwaitingChoice.
func (m *Manager) Start(p Participant) {
	id := p.Profile.ID

	m.mu.Lock()
	var stale clockwork.Timer
	if old, ok := m.convs[id]; ok {
		stale = old.timer
		m.logger.Debug("replacing conversation", zap.String("participant", id), zap.String("state", string(old.state)))
	}
	m.lastGen++
	gen := m.lastGen
	c := &conversation{p: p, state: StateSent, gen: gen}
	m.convs[id] = c
	m.metrics.Transition(string(StateSent))
	c.state = StateAwaitingChoice
	m.metrics.Transition(string(StateAwaitingChoice))
	m.metrics.SetActiveConversations(len(m.convs))
	m.mu.Unlock()

	if stale != nil {
		stale.Stop()
	}

	t := m.clock.AfterFunc(m.timeout, func() { m.expire(id, gen) })

	m.mu.Lock()
	cur, ok := m.convs[id]
	keep := ok && cur.gen == gen && cur.state == StateAwaitingChoice
	if keep {
		cur.timer = t
	}
	m.mu.Unlock()
	if !keep {
		t.Stop()
	}
}

// Handle applies an explicit participant action.
func (m *Manager) Handle(ctx context.Context, participantID string, action message.Action) error {
	m.mu.Lock()
	c, ok := m.convs[participantID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w for %s", ErrNoConversation, participantID)
	}
	from := c.state
	next, ok := transition(from, action)
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s in %s", ErrUnexpectedAction, action, from)
	}
	pending := c.timer
	c.timer = nil
	c.state = next
	p := c.p
	if next.Terminal() {
		delete(m.convs, participantID)
	}
	m.metrics.Transition(string(next))
	m.metrics.SetActiveConversations(len(m.convs))
	m.mu.Unlock()

	if pending != nil {
		pending.Stop()
	}

	m.logger.Info("conversation advanced",
		zap.String("participant", participantID),
		zap.String("from", string(from)),
		zap.String("to", string(next)),
		zap.String("action", string(action)),
	)

	m.reply(ctx, p, replyFor(next))
	if next == StateSignupRequested {
		m.sendLead(ctx, p)
	}
	return nil
}

// expire fires when the timeout elapses. The generation check makes a timer
// belonging to a replaced conversation a no-op, and the state check makes the
// follow-up go out at most once.
func (m *Manager) expire(id string, gen uint64) {
	m.mu.Lock()
	c, ok := m.convs[id]
	if !ok || c.gen != gen || c.state != StateAwaitingChoice {
		m.mu.Unlock()
		return
	}
	c.state = StateFollowUpSent
	c.timer = nil
	p := c.p
	m.metrics.Transition(string(StateFollowUpSent))
	m.mu.Unlock()

	m.logger.Info("no choice before timeout, sending follow-up", zap.String("participant", id))
	followUp := message.FollowUp()
	m.reply(context.Background(), p, &followUp)
}

func (m *Manager) reply(ctx context.Context, p Participant, msg *message.Message) {
	if msg == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, m.sendTimeout)
	defer cancel()
	if err := m.sender.Send(ctx, message.Recipient{UserID: p.Profile.ID}, *msg); err != nil {
		m.logger.Warn("conversation reply failed",
			zap.String("participant", p.Profile.ID),
			zap.String("phase", "conversation"),
			zap.Error(err),
		)
	}
}

func (m *Manager) sendLead(ctx context.Context, p Participant) {
	groupID := ""
	if p.Archive != nil {
		groupID = p.Archive.Group.ID
	}
	if m.leadChannel == "" {
		m.logger.Warn("no lead channel configured, dropping lead",
			zap.String("participant", p.Profile.ID), zap.String("group", groupID))
		m.metrics.Lead("dropped")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, m.sendTimeout)
	defer cancel()
	err := m.sender.Send(ctx, message.Recipient{ChannelID: m.leadChannel}, message.Lead(p.Profile, p.Archive))
	if err != nil {
		m.logger.Error("lead notification failed",
			zap.String("participant", p.Profile.ID),
			zap.String("group", groupID),
			zap.String("phase", "lead"),
			zap.Error(err),
		)
		m.metrics.Lead("failed")
		return
	}
	m.metrics.Lead("sent")
}

// State reports the current state for a participant.
func (m *Manager) State(participantID string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[participantID]
	if !ok {
		return "", false
	}
	return c.state, true
}

// Pending reports whether a timeout is outstanding for the participant.
func (m *Manager) Pending(participantID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[participantID]
	return ok && c.timer != nil
}

func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.convs)
}

// Stop cancels every pending timeout and forgets all conversations.
func (m *Manager) Stop() {
	m.mu.Lock()
	timers := make([]clockwork.Timer, 0, len(m.convs))
	for id, c := range m.convs {
		if c.timer != nil {
			timers = append(timers, c.timer)
		}
		delete(m.convs, id)
	}
	m.metrics.SetActiveConversations(0)
	m.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
}
