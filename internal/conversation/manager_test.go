package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/susu3304/anklavbot/internal/directory"
	"github.com/susu3304/anklavbot/internal/equity"
	"github.com/susu3304/anklavbot/internal/message"
	"github.com/susu3304/anklavbot/internal/metrics"
)

const leadChannel = "lead-chan"

type delivery struct {
	to  message.Recipient
	msg message.Message
}

type recordingSender struct {
	mu   sync.Mutex
	sent []delivery
	err  error
}

func (s *recordingSender) Send(_ context.Context, to message.Recipient, msg message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, delivery{to: to, msg: msg})
	return s.err
}

func (s *recordingSender) titles(to message.Recipient) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, d := range s.sent {
		if d.to == to {
			out = append(out, d.msg.Title)
		}
	}
	return out
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func participant(id string) Participant {
	return Participant{
		Profile: directory.Profile{ID: id, DisplayName: "Vlad", Handle: "vlad"},
		Member:  "Vlad",
		Archive: &equity.Archived{
			Group: equity.Group{
				ID:          "room7",
				Capacity:    2,
				Members:     []string{"Alex", "Vlad"},
				Submissions: []equity.Submission{{ID: "1", Name: "Alex"}, {ID: id, Name: "Vlad"}},
			},
			Result: equity.Result{Shares: []equity.Share{{Name: "Alex", Share: 50}, {Name: "Vlad", Share: 50}}},
		},
	}
}

func newTestManager(t *testing.T, clock clockwork.Clock) (*Manager, *recordingSender) {
	t.Helper()
	s := &recordingSender{}
	m := NewManager(s,
		WithClock(clock),
		WithTimeout(5*time.Minute),
		WithLeadChannel(leadChannel),
		WithLogger(zaptest.NewLogger(t)),
		WithMetrics(metrics.NewManager()),
	)
	t.Cleanup(m.Stop)
	return m, s
}

func waitState(t *testing.T, m *Manager, id string, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, ok := m.State(id)
		return ok && st == want
	}, time.Second, time.Millisecond)
}

var (
	user = message.Recipient{UserID: "42"}
	lead = message.Recipient{ChannelID: leadChannel}
)

func TestTimeoutSendsFollowUpOnce(t *testing.T) {
	fc := clockwork.NewFakeClock()
	m, s := newTestManager(t, fc)
	m.Start(participant("42"))

	st, ok := m.State("42")
	require.True(t, ok)
	assert.Equal(t, StateAwaitingChoice, st)
	assert.True(t, m.Pending("42"))

	fc.Advance(5*time.Minute - time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, s.count())

	fc.Advance(time.Second)
	waitState(t, m, "42", StateFollowUpSent)
	require.Eventually(t, func() bool { return s.count() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{message.FollowUp().Title}, s.titles(user))
	assert.False(t, m.Pending("42"))

	fc.Advance(time.Hour)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, s.count())
}

func TestActionAfterTimeoutDoesNotDoubleSend(t *testing.T) {
	fc := clockwork.NewFakeClock()
	m, s := newTestManager(t, fc)
	m.Start(participant("42"))
	fc.Advance(5 * time.Minute)
	waitState(t, m, "42", StateFollowUpSent)
	require.Eventually(t, func() bool { return s.count() == 1 }, time.Second, time.Millisecond)

	err := m.Handle(context.Background(), "42", message.ActionSatisfied)
	assert.ErrorIs(t, err, ErrUnexpectedAction)
	assert.Equal(t, 1, s.count())

	require.NoError(t, m.Handle(context.Background(), "42", message.ActionBook))
	_, ok := m.State("42")
	assert.False(t, ok, "terminal conversations are discarded")

	assert.Equal(t, []string{message.FollowUp().Title, message.SignupConfirmed().Title}, s.titles(user))
	assert.Equal(t, []string{message.Lead(directory.Profile{}, nil).Title}, s.titles(lead))
}

func TestFollowUpOtherQuestionAlsoRequestsSignup(t *testing.T) {
	fc := clockwork.NewFakeClock()
	m, s := newTestManager(t, fc)
	m.Start(participant("42"))
	fc.Advance(5 * time.Minute)
	waitState(t, m, "42", StateFollowUpSent)

	require.NoError(t, m.Handle(context.Background(), "42", message.ActionOtherQuestion))
	assert.Len(t, s.titles(lead), 1)
}

func TestExplicitChoiceCancelsTimeout(t *testing.T) {
	fc := clockwork.NewFakeClock()
	m, s := newTestManager(t, fc)
	m.Start(participant("42"))

	require.NoError(t, m.Handle(context.Background(), "42", message.ActionSatisfied))
	st, _ := m.State("42")
	assert.Equal(t, StateSatisfied, st)
	assert.False(t, m.Pending("42"))

	fc.Advance(time.Hour)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, []string{message.SatisfiedAck().Title}, s.titles(user))

	require.NoError(t, m.Handle(context.Background(), "42", message.ActionConnect))
	_, ok := m.State("42")
	assert.False(t, ok)

	leads := func() []delivery {
		s.mu.Lock()
		defer s.mu.Unlock()
		var out []delivery
		for _, d := range s.sent {
			if d.to == lead {
				out = append(out, d)
			}
		}
		return out
	}()
	require.Len(t, leads, 1)
	text := leads[0].msg.PlainText()
	assert.Contains(t, text, "Room: room7")
	assert.Contains(t, text, "• Vlad: 50.0%")
}

func TestDissatisfiedPaths(t *testing.T) {
	t.Run("request session", func(t *testing.T) {
		m, s := newTestManager(t, clockwork.NewFakeClock())
		m.Start(participant("42"))
		require.NoError(t, m.Handle(context.Background(), "42", message.ActionDissatisfied))
		require.NoError(t, m.Handle(context.Background(), "42", message.ActionRequestSession))

		assert.Equal(t, []string{message.DissatisfiedAck().Title, message.SignupConfirmed().Title}, s.titles(user))
		assert.Len(t, s.titles(lead), 1)
	})

	t.Run("decline", func(t *testing.T) {
		m, s := newTestManager(t, clockwork.NewFakeClock())
		m.Start(participant("42"))
		require.NoError(t, m.Handle(context.Background(), "42", message.ActionDissatisfied))
		require.NoError(t, m.Handle(context.Background(), "42", message.ActionDecline))

		_, ok := m.State("42")
		assert.False(t, ok)
		assert.Empty(t, s.titles(lead))
		assert.Equal(t, []string{message.DissatisfiedAck().Title, message.Goodbye().Title}, s.titles(user))
	})
}

func TestRestartReplacesPendingTimeout(t *testing.T) {
	fc := clockwork.NewFakeClock()
	m, s := newTestManager(t, fc)
	m.Start(participant("42"))
	fc.Advance(3 * time.Minute)

	m.Start(participant("42"))
	assert.Equal(t, 1, m.Active())

	fc.Advance(3 * time.Minute)
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, s.count(), "first timer must be canceled")

	fc.Advance(2 * time.Minute)
	waitState(t, m, "42", StateFollowUpSent)
	require.Eventually(t, func() bool { return s.count() == 1 }, time.Second, time.Millisecond)

	fc.Advance(time.Hour)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, s.count())
}

func TestUnknownParticipant(t *testing.T) {
	m, _ := newTestManager(t, clockwork.NewFakeClock())
	err := m.Handle(context.Background(), "nobody", message.ActionSatisfied)
	assert.ErrorIs(t, err, ErrNoConversation)
}

func TestInvalidActionInAwaitingChoice(t *testing.T) {
	m, s := newTestManager(t, clockwork.NewFakeClock())
	m.Start(participant("42"))
	err := m.Handle(context.Background(), "42", message.ActionConnect)
	assert.ErrorIs(t, err, ErrUnexpectedAction)
	assert.True(t, m.Pending("42"), "a rejected action leaves the timer alone")
	assert.Zero(t, s.count())
}

func TestAcknowledgementAcceptsOnlyItsButtons(t *testing.T) {
	tests := []struct {
		choice, wrong message.Action
		state         State
	}{
		{message.ActionSatisfied, message.ActionRequestSession, StateSatisfied},
		{message.ActionDissatisfied, message.ActionConnect, StateDissatisfied},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			m, s := newTestManager(t, clockwork.NewFakeClock())
			m.Start(participant("42"))
			require.NoError(t, m.Handle(context.Background(), "42", tt.choice))

			err := m.Handle(context.Background(), "42", tt.wrong)
			assert.ErrorIs(t, err, ErrUnexpectedAction)
			st, ok := m.State("42")
			require.True(t, ok)
			assert.Equal(t, tt.state, st)
			assert.Empty(t, s.titles(lead))
		})
	}
}

func TestSendFailureStillAdvances(t *testing.T) {
	m, s := newTestManager(t, clockwork.NewFakeClock())
	s.err = errors.New("gateway down")
	m.Start(participant("42"))

	require.NoError(t, m.Handle(context.Background(), "42", message.ActionSatisfied))
	st, _ := m.State("42")
	assert.Equal(t, StateSatisfied, st)

	require.NoError(t, m.Handle(context.Background(), "42", message.ActionConnect))
	_, ok := m.State("42")
	assert.False(t, ok)
}

func TestLeadDroppedWithoutChannel(t *testing.T) {
	s := &recordingSender{}
	m := NewManager(s, WithClock(clockwork.NewFakeClock()))
	defer m.Stop()

	m.Start(participant("42"))
	require.NoError(t, m.Handle(context.Background(), "42", message.ActionSatisfied))
	require.NoError(t, m.Handle(context.Background(), "42", message.ActionConnect))
	assert.Equal(t, 2, s.count())
}

func TestTimeoutRacingExplicitChoice(t *testing.T) {
	for i := 0; i < 20; i++ {
		fc := clockwork.NewFakeClock()
		m, s := newTestManager(t, fc)
		m.Start(participant("42"))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			fc.Advance(5 * time.Minute)
		}()
		go func() {
			defer wg.Done()
			_ = m.Handle(context.Background(), "42", message.ActionSatisfied)
		}()
		wg.Wait()

		require.Eventually(t, func() bool { return s.count() >= 1 }, time.Second, time.Millisecond)
		time.Sleep(5 * time.Millisecond)
		require.Equal(t, 1, s.count(), "exactly one of follow-up or acknowledgement")

		st, ok := m.State("42")
		require.True(t, ok)
		assert.Contains(t, []State{StateSatisfied, StateFollowUpSent}, st)
	}
}
