// Package scheduler finds rooms in which every member has submitted, claims
// them, computes the allocation, notifies the members, archives the result
// and hands notified members over to the conversation manager.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/susu3304/anklavbot/internal/conversation"
	"github.com/susu3304/anklavbot/internal/directory"
	"github.com/susu3304/anklavbot/internal/equity"
	"github.com/susu3304/anklavbot/internal/message"
	"github.com/susu3304/anklavbot/internal/metrics"
)

const (
	DefaultInterval       = 30 * time.Second
	defaultNotifyParallel = 4

	// processTimeout bounds the work after a successful claim, which runs
	// detached from the caller's cancellation.
	processTimeout = 2 * time.Minute
)

// ErrRaceLost is returned by a claim attempt that another claimant won.
var ErrRaceLost = errors.New("claim lost to another claimant")

type GroupStore interface {
	CompletedUnclaimed(ctx context.Context) ([]*equity.Group, error)
	// Claim sets claimed only if unset and returns the claimed record, or
	// nil when the flag was already set.
	Claim(ctx context.Context, id string) (*equity.Group, error)
	DeleteRoom(ctx context.Context, id string) error
}

type ArchiveStore interface {
	CreateArchive(ctx context.Context, a *equity.Archived) error
}

type Directory interface {
	Lookup(ctx context.Context, id string) (*directory.Profile, error)
}

type Notifier interface {
	Send(ctx context.Context, to message.Recipient, msg message.Message) error
}

type ConversationStarter interface {
	Start(p conversation.Participant)
}

// Report summarizes one scan.
type Report struct {
	Candidates int
	Archived   int
	RaceLost   int
	Failed     int
}

type Scheduler struct {
	groups        GroupStore
	archives      ArchiveStore
	dir           Directory
	notifier      Notifier
	conversations ConversationStarter

	clock          clockwork.Clock
	interval       time.Duration
	notifyParallel int
	logger         *zap.Logger
	metrics        *metrics.Manager

	ticker   clockwork.Ticker
	stopChan chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	inflight sync.WaitGroup
}

type Option func(*Scheduler)

func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithNotifyParallel bounds concurrent result deliveries within one group.
func WithNotifyParallel(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.notifyParallel = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

func WithMetrics(m *metrics.Manager) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func New(groups GroupStore, archives ArchiveStore, dir Directory, notifier Notifier, conversations ConversationStarter, opts ...Option) *Scheduler {
	s := &Scheduler{
		groups:         groups,
		archives:       archives,
		dir:            dir,
		notifier:       notifier,
		conversations:  conversations,
		clock:          clockwork.NewRealClock(),
		interval:       DefaultInterval,
		notifyParallel: defaultNotifyParallel,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("scheduler")
	return s
}

// Start runs Tick every interval until Stop is called or ctx ends. A tick
// that is still running when the next one fires is not waited for; the
// claim keeps overlapping ticks from processing a room twice.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil {
		return
	}
	s.ticker = s.clock.NewTicker(s.interval)
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop halts the loop and waits for in-flight ticks.
func (s *Scheduler) Stop() {
	if s == nil || s.stopChan == nil {
		return
	}
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.ticker.Stop()
		<-s.done
		s.inflight.Wait()
	})
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-s.ticker.Chan():
			s.inflight.Add(1)
			go func() {
				defer s.inflight.Done()
				s.Tick(ctx)
			}()
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Tick scans once and processes every candidate room. Failures on one room
// never stop the others; the returned error covers only the scan itself.
func (s *Scheduler) Tick(ctx context.Context) (Report, error) {
	start := s.clock.Now()
	defer func() { s.metrics.ObserveTick(s.clock.Since(start)) }()

	var rep Report
	cands, err := s.groups.CompletedUnclaimed(ctx)
	if err != nil {
		s.logger.Error("scan failed", zap.String("phase", "scan"), zap.Error(err))
		return rep, fmt.Errorf("scan completed rooms: %w", err)
	}
	rep.Candidates = len(cands)

	for _, g := range cands {
		// Stop claiming on shutdown; rooms not yet claimed wait for the next run.
		if ctx.Err() != nil {
			break
		}
		err := s.process(ctx, g.ID)
		switch {
		case err == nil:
			rep.Archived++
		case errors.Is(err, ErrRaceLost):
			rep.RaceLost++
		default:
			rep.Failed++
		}
	}
	if rep.Candidates > 0 {
		s.logger.Info("scan finished",
			zap.Int("candidates", rep.Candidates),
			zap.Int("archived", rep.Archived),
			zap.Int("raceLost", rep.RaceLost),
			zap.Int("failed", rep.Failed),
		)
	}
	return rep, nil
}

func (s *Scheduler) process(ctx context.Context, groupID string) error {
	log := s.logger.With(zap.String("group", groupID))

	g, err := s.groups.Claim(ctx, groupID)
	if err != nil {
		log.Error("claim failed", zap.String("phase", "claim"), zap.Error(err))
		return fmt.Errorf("claim %s: %w", groupID, err)
	}
	if g == nil {
		log.Debug("room already claimed elsewhere")
		s.metrics.ClaimLost()
		return ErrRaceLost
	}
	s.metrics.GroupClaimed()

	// A claimed room is never offered to a scan again, so finish it even if
	// the caller is shutting down.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), processTimeout)
	defer cancel()

	res, err := equity.Compute(g)
	if err != nil {
		// Left claimed: a malformed room needs a human, not another tick.
		log.Error("allocation failed, room left claimed", zap.String("phase", "compute"), zap.Error(err))
		s.metrics.ComputeFailed()
		return fmt.Errorf("compute %s: %w", groupID, err)
	}

	snapshot := &equity.Archived{Group: *g, Result: *res, ArchivedAt: s.clock.Now()}
	notified := s.notifyMembers(ctx, log, snapshot)

	if err := s.archives.CreateArchive(ctx, snapshot); err != nil {
		log.Error("archive failed, room left claimed for recovery", zap.String("phase", "archive"), zap.Error(err))
		s.metrics.ArchiveFailed()
		s.startConversations(notified)
		return fmt.Errorf("archive %s: %w", groupID, err)
	}
	s.metrics.GroupArchived()

	if err := s.groups.DeleteRoom(ctx, groupID); err != nil {
		log.Warn("archived room could not be deleted", zap.String("phase", "delete"), zap.Error(err))
		s.metrics.DeleteFailed()
	}

	s.startConversations(notified)
	log.Info("room processed", zap.Int("notified", len(notified)))
	return nil
}

// notifyMembers delivers the result to every member with a resolvable
// profile and returns the participants that received it, in member order.
func (s *Scheduler) notifyMembers(ctx context.Context, log *zap.Logger, a *equity.Archived) []conversation.Participant {
	members := a.Group.Members
	delivered := make([]*conversation.Participant, len(members))

	var eg errgroup.Group
	eg.SetLimit(s.notifyParallel)
	for i, member := range members {
		i, member := i, member
		eg.Go(func() error {
			sub := a.Group.SubmissionByName(member)
			if sub == nil {
				log.Warn("member has no submission", zap.String("member", member), zap.String("phase", "notify"))
				s.metrics.Notification("skipped")
				return nil
			}
			plog := log.With(zap.String("participant", sub.ID), zap.String("phase", "notify"))

			profile, err := s.dir.Lookup(ctx, sub.ID)
			if err != nil {
				if errors.Is(err, directory.ErrNotFound) {
					plog.Info("participant not registered, skipping")
					s.metrics.Notification("skipped")
				} else {
					plog.Error("directory lookup failed", zap.Error(err))
					s.metrics.Notification("failed")
				}
				return nil
			}

			msg := message.Result(*profile, member, a)
			if err := s.notifier.Send(ctx, message.Recipient{UserID: profile.ID}, msg); err != nil {
				plog.Error("result delivery failed", zap.Error(err))
				s.metrics.Notification("failed")
				return nil
			}
			s.metrics.Notification("sent")
			delivered[i] = &conversation.Participant{Profile: *profile, Member: member, Archive: a}
			return nil
		})
	}
	_ = eg.Wait()

	out := make([]conversation.Participant, 0, len(members))
	for _, p := range delivered {
		if p != nil {
			out = append(out, *p)
		}
	}
	return out
}

func (s *Scheduler) startConversations(ps []conversation.Participant) {
	if s.conversations == nil {
		return
	}
	for _, p := range ps {
		s.conversations.Start(p)
	}
}
