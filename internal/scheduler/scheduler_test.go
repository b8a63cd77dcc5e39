package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/susu3304/anklavbot/internal/conversation"
	"github.com/susu3304/anklavbot/internal/directory"
	"github.com/susu3304/anklavbot/internal/equity"
	"github.com/susu3304/anklavbot/internal/memstore"
	"github.com/susu3304/anklavbot/internal/message"
	"github.com/susu3304/anklavbot/internal/metrics"
)

func TestMain(m *testing.M) {
	// go-cache runs a janitor goroutine for the life of each cache.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"))
}

type sentResult struct {
	to  message.Recipient
	msg message.Message
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentResult
	fail map[string]bool
	// onSend runs before each delivery.
	onSend func()
}

func (n *fakeNotifier) Send(ctx context.Context, to message.Recipient, msg message.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.onSend != nil {
		n.onSend()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if n.fail[to.UserID] {
		return errors.New("blocked by recipient")
	}
	n.sent = append(n.sent, sentResult{to: to, msg: msg})
	return nil
}

func (n *fakeNotifier) recipients() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, s := range n.sent {
		out = append(out, s.to.UserID)
	}
	return out
}

type fakeConversations struct {
	mu      sync.Mutex
	started []conversation.Participant
}

func (c *fakeConversations) Start(p conversation.Participant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = append(c.started, p)
}

func (c *fakeConversations) ids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, p := range c.started {
		out = append(out, p.Profile.ID)
	}
	return out
}

// flakyStore fails archive or delete on demand.
type flakyStore struct {
	*memstore.Store
	archiveErr error
	deleteErr  error
}

func (f *flakyStore) CreateArchive(ctx context.Context, a *equity.Archived) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.archiveErr != nil {
		return f.archiveErr
	}
	return f.Store.CreateArchive(ctx, a)
}

func (f *flakyStore) DeleteRoom(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.Store.DeleteRoom(ctx, id)
}

type fixture struct {
	store   *flakyStore
	sched   *Scheduler
	notes   *fakeNotifier
	convs   *fakeConversations
	metrics *metrics.Manager
	clock   clockwork.Clock
}

func newFixture(t *testing.T, registered ...string) *fixture {
	t.Helper()
	mem := memstore.New()
	for _, id := range registered {
		_, err := mem.UpsertUser(context.Background(), &directory.User{ID: id, FirstName: "User", LastName: id, Username: "u" + id})
		require.NoError(t, err)
	}
	f := &fixture{
		store:   &flakyStore{Store: mem},
		notes:   &fakeNotifier{fail: map[string]bool{}},
		convs:   &fakeConversations{},
		metrics: metrics.NewManager(),
		clock:   clockwork.NewFakeClock(),
	}
	f.sched = f.newScheduler(t)
	return f
}

func (f *fixture) newScheduler(t *testing.T) *Scheduler {
	return New(f.store, f.store, directory.NewCache(f.store, time.Minute), f.notes, f.convs,
		WithClock(f.clock),
		WithNotifyParallel(2),
		WithLogger(zaptest.NewLogger(t)),
		WithMetrics(f.metrics),
	)
}

var even = equity.Capital{Econ: 40, Human: 30, Social: 30}

// completeRoom creates room id with members A, B, C whose authors are
// "1", "2" and "3", everyone rating self 40/30/30 and peers the same.
func (f *fixture) completeRoom(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()
	members := []string{"A", "B", "C"}
	require.NoError(t, f.store.CreateRoom(ctx, &equity.Group{ID: id, Capacity: 3, Members: members}))
	for i, name := range members {
		sub := equity.Submission{ID: string(rune('1' + i)), Name: name, Self: even}
		for _, peer := range members {
			if peer != name {
				sub.Partners = append(sub.Partners, equity.PeerRating{PartnerName: peer, Capital: even})
			}
		}
		_, _, err := f.store.AddSubmission(ctx, id, sub)
		require.NoError(t, err)
	}
}

func (f *fixture) assertCounter(t *testing.T, name, help string, want string) {
	t.Helper()
	expected := "# HELP " + name + " " + help + "\n# TYPE " + name + " counter\n" + name + " " + want + "\n"
	assert.NoError(t, testutil.GatherAndCompare(f.metrics.Registry(), strings.NewReader(expected), name))
}

func TestTickEndToEnd(t *testing.T) {
	f := newFixture(t, "1", "2", "3")
	f.completeRoom(t, "room1")
	ctx := context.Background()

	rep, err := f.sched.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Candidates: 1, Archived: 1}, rep)

	assert.ElementsMatch(t, []string{"1", "2", "3"}, f.notes.recipients())
	assert.Equal(t, []string{"1", "2", "3"}, f.convs.ids(), "conversations start in member order")

	a, err := f.store.ArchiveByParticipant(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, "room1", a.Group.ID)
	assert.True(t, a.Group.Claimed)
	assert.Equal(t, 1000, equity.SumTenths(a.Result.Shares))
	for _, s := range a.Result.Shares {
		assert.InDelta(t, 33.3, s.Share, 0.11)
	}

	_, err = f.store.GetRoom(ctx, "room1")
	assert.ErrorIs(t, err, equity.ErrGroupNotFound)

	for _, s := range f.notes.sent {
		assert.Contains(t, s.msg.PlainText(), "Final shares")
		require.Len(t, s.msg.Buttons, 2)
	}
	f.assertCounter(t, "anklav_scheduler_groups_archived_total", "Groups archived after processing", "1")
}

func TestRescanIsIdempotent(t *testing.T) {
	f := newFixture(t, "1", "2", "3")
	f.completeRoom(t, "room1")
	ctx := context.Background()

	_, err := f.sched.Tick(ctx)
	require.NoError(t, err)
	rep, err := f.sched.Tick(ctx)
	require.NoError(t, err)

	assert.Equal(t, Report{}, rep)
	assert.Len(t, f.notes.recipients(), 3)
	assert.Len(t, f.convs.ids(), 3)
}

func TestShutdownFinishesClaimedRoom(t *testing.T) {
	f := newFixture(t, "1", "2", "3")
	f.completeRoom(t, "room1")
	f.completeRoom(t, "room2")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.notes.onSend = cancel

	rep, err := f.sched.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Candidates: 2, Archived: 1}, rep)

	bg := context.Background()
	a, err := f.store.ArchiveByParticipant(bg, "1")
	require.NoError(t, err)
	assert.Equal(t, "room1", a.Group.ID)
	assert.ElementsMatch(t, []string{"1", "2", "3"}, f.notes.recipients())
	assert.Len(t, f.convs.ids(), 3)

	_, err = f.store.GetRoom(bg, "room1")
	assert.ErrorIs(t, err, equity.ErrGroupNotFound)

	// the second room was never claimed and is picked up by the next run
	g, err := f.store.GetRoom(bg, "room2")
	require.NoError(t, err)
	assert.False(t, g.Claimed)
}

func TestIncompleteRoomIsNotACandidate(t *testing.T) {
	f := newFixture(t, "1")
	ctx := context.Background()
	require.NoError(t, f.store.CreateRoom(ctx, &equity.Group{ID: "r", Capacity: 2, Members: []string{"A", "B"}}))
	_, _, err := f.store.AddSubmission(ctx, "r", equity.Submission{ID: "1", Name: "A", Self: even})
	require.NoError(t, err)

	rep, err := f.sched.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Candidates)
	assert.Empty(t, f.notes.recipients())
}

func TestConcurrentTicksProcessOnce(t *testing.T) {
	f := newFixture(t, "1", "2", "3")
	f.completeRoom(t, "room1")
	f.completeRoom(t, "room2")
	other := f.newScheduler(t)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total Report
	)
	for i := 0; i < 8; i++ {
		s := f.sched
		if i%2 == 1 {
			s = other
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			rep, err := s.Tick(context.Background())
			assert.NoError(t, err)
			mu.Lock()
			total.Archived += rep.Archived
			total.Failed += rep.Failed
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, total.Archived)
	assert.Zero(t, total.Failed)
	assert.Len(t, f.notes.recipients(), 6, "three members in each of two rooms, once each")
	assert.Len(t, f.convs.ids(), 6)
}

func TestUnregisteredParticipantIsSkipped(t *testing.T) {
	f := newFixture(t, "1", "3")
	f.completeRoom(t, "room1")

	rep, err := f.sched.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Archived)
	assert.ElementsMatch(t, []string{"1", "3"}, f.notes.recipients())
	assert.Equal(t, []string{"1", "3"}, f.convs.ids())

	ok, err := f.store.ArchiveExists(context.Background(), "room1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFailedDeliveryStartsNoConversation(t *testing.T) {
	f := newFixture(t, "1", "2", "3")
	f.notes.fail["2"] = true
	f.completeRoom(t, "room1")

	_, err := f.sched.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3"}, f.convs.ids())
}

func TestArchiveFailureLeavesRoomClaimed(t *testing.T) {
	f := newFixture(t, "1", "2", "3")
	f.store.archiveErr = errors.New("disk full")
	f.completeRoom(t, "room1")
	ctx := context.Background()

	rep, err := f.sched.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)

	g, err := f.store.GetRoom(ctx, "room1")
	require.NoError(t, err, "the active record must survive")
	assert.True(t, g.Claimed)

	claimed, err := f.store.ListClaimed(ctx)
	require.NoError(t, err)
	assert.Len(t, claimed, 1)

	rep, err = f.sched.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Candidates, "a claimed room is never retried automatically")
	f.assertCounter(t, "anklav_scheduler_archive_failures_total", "Claimed groups left unarchived after an archive failure", "1")
}

func TestDeleteFailureIsNotRetried(t *testing.T) {
	f := newFixture(t, "1", "2", "3")
	f.store.deleteErr = errors.New("connection reset")
	f.completeRoom(t, "room1")
	ctx := context.Background()

	rep, err := f.sched.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Archived)

	ok, err := f.store.ArchiveExists(ctx, "room1")
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = f.store.GetRoom(ctx, "room1")
	assert.NoError(t, err, "lingering claimed room")

	rep, err = f.sched.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Candidates)
	assert.Len(t, f.notes.recipients(), 3)
	f.assertCounter(t, "anklav_scheduler_delete_failures_total", "Archived groups whose active record could not be deleted", "1")
}

func TestStartStopLoop(t *testing.T) {
	f := newFixture(t, "1", "2", "3")
	fc := f.clock.(interface{ Advance(time.Duration) })
	f.sched = New(f.store, f.store, directory.NewCache(f.store, time.Minute), f.notes, f.convs,
		WithClock(f.clock),
		WithInterval(10*time.Second),
		WithLogger(zaptest.NewLogger(t)),
	)
	f.completeRoom(t, "room1")

	f.sched.Start(context.Background())
	require.Eventually(t, func() bool {
		fc.Advance(10 * time.Second)
		return len(f.convs.ids()) == 3
	}, 2*time.Second, 5*time.Millisecond)
	f.sched.Stop()
	f.sched.Stop()
}
