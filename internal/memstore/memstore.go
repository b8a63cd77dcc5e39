// Package memstore keeps rooms, archives and registered users in process
// memory. It backs development runs without DATABASE_URL and the tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/susu3304/anklavbot/internal/directory"
	"github.com/susu3304/anklavbot/internal/equity"
)

type Store struct {
	mu       sync.Mutex
	rooms    map[string]*equity.Group
	archives map[string]*equity.Archived
	users    map[string]*directory.User
	now      func() time.Time
}

func New() *Store {
	return &Store{
		rooms:    make(map[string]*equity.Group),
		archives: make(map[string]*equity.Archived),
		users:    make(map[string]*directory.User),
		now:      time.Now,
	}
}

// clone copies the slices a caller could otherwise mutate behind the lock.
func clone(g *equity.Group) *equity.Group {
	c := *g
	c.Members = append([]string(nil), g.Members...)
	c.Submissions = make([]equity.Submission, len(g.Submissions))
	for i, s := range g.Submissions {
		s.Answers = append([]string(nil), s.Answers...)
		s.Partners = append([]equity.PeerRating(nil), s.Partners...)
		c.Submissions[i] = s
	}
	if g.Weights != nil {
		w := *g.Weights
		c.Weights = &w
	}
	return &c
}

func (s *Store) CreateRoom(_ context.Context, g *equity.Group) error {
	if err := equity.ValidateGroup(g); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[g.ID]; ok {
		return fmt.Errorf("%w: %s", equity.ErrRoomExists, g.ID)
	}
	c := clone(g)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	s.rooms[g.ID] = c
	return nil
}

func (s *Store) GetRoom(_ context.Context, id string) (*equity.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.rooms[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", equity.ErrGroupNotFound, id)
	}
	return clone(g), nil
}

// AddSubmission validates and appends sub under the store lock. It returns
// the submission count after the append and the room capacity.
func (s *Store) AddSubmission(_ context.Context, roomID string, sub equity.Submission) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.rooms[roomID]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %s", equity.ErrGroupNotFound, roomID)
	}
	if g.Claimed {
		return len(g.Submissions), g.Capacity, fmt.Errorf("%w: room %s is already being processed", equity.ErrInvalidInput, roomID)
	}
	if err := equity.ValidateSubmission(g, &sub); err != nil {
		return len(g.Submissions), g.Capacity, err
	}
	g.Submissions = append(g.Submissions, sub)
	return len(g.Submissions), g.Capacity, nil
}

// CompletedUnclaimed lists rooms whose every member has submitted and that
// nobody has claimed yet, oldest first.
func (s *Store) CompletedUnclaimed(_ context.Context) ([]*equity.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*equity.Group
	for _, g := range s.rooms {
		if g.Complete() && !g.Claimed {
			out = append(out, clone(g))
		}
	}
	sortRooms(out)
	return out, nil
}

// Claim sets the claimed flag only if it is unset. A nil group with a nil
// error means another claimant got there first.
func (s *Store) Claim(_ context.Context, id string) (*equity.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.rooms[id]
	if !ok || g.Claimed {
		return nil, nil
	}
	g.Claimed = true
	return clone(g), nil
}

func (s *Store) DeleteRoom(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[id]; !ok {
		return fmt.Errorf("%w: %s", equity.ErrGroupNotFound, id)
	}
	delete(s.rooms, id)
	return nil
}

// ListClaimed returns rooms that were claimed but are still in active
// storage.
func (s *Store) ListClaimed(_ context.Context) ([]*equity.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*equity.Group
	for _, g := range s.rooms {
		if g.Claimed {
			out = append(out, clone(g))
		}
	}
	sortRooms(out)
	return out, nil
}

func sortRooms(gs []*equity.Group) {
	sort.Slice(gs, func(i, j int) bool {
		if !gs[i].CreatedAt.Equal(gs[j].CreatedAt) {
			return gs[i].CreatedAt.Before(gs[j].CreatedAt)
		}
		return gs[i].ID < gs[j].ID
	})
}

// CreateArchive stores the snapshot once per room; a second call for the
// same room keeps the first snapshot.
func (s *Store) CreateArchive(_ context.Context, a *equity.Archived) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.archives[a.Group.ID]; ok {
		return nil
	}
	c := *a
	c.Group = *clone(&a.Group)
	if c.ArchivedAt.IsZero() {
		c.ArchivedAt = s.now()
	}
	s.archives[a.Group.ID] = &c
	return nil
}

// ArchiveByParticipant returns the most recent archive holding a submission
// by participantID.
func (s *Store) ArchiveByParticipant(_ context.Context, participantID string) (*equity.Archived, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *equity.Archived
	for _, a := range s.archives {
		if a.Group.SubmissionByID(participantID) == nil {
			continue
		}
		if best == nil || a.ArchivedAt.After(best.ArchivedAt) {
			best = a
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: participant %s", equity.ErrArchiveNotFound, participantID)
	}
	c := *best
	c.Group = *clone(&best.Group)
	return &c, nil
}

func (s *Store) ArchiveExists(_ context.Context, roomID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.archives[roomID]
	return ok, nil
}

// UpsertUser registers u if absent. It reports whether a new record was
// created.
func (s *Store) UpsertUser(_ context.Context, u *directory.User) (bool, error) {
	if u.ID == "" {
		return false, fmt.Errorf("%w: user has no id", equity.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return false, nil
	}
	c := *u
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	s.users[u.ID] = &c
	return true, nil
}

func (s *Store) UserByID(_ context.Context, id string) (*directory.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", directory.ErrNotFound, id)
	}
	c := *u
	return &c, nil
}
