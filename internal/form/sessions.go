package form

import (
	"sync"
	"time"

	"github.com/jo-hoe/productscribe/internal/util"
)

// Sessions maps browser session ids to their Controller and drops idle ones.
type Sessions struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	factory func() *Controller
	byID    map[string]*session
}

type session struct {
	ctrl     *Controller
	lastSeen time.Time
}

// NewSessions creates a registry. factory builds the Controller for each new session.
// A ttl <= 0 disables eviction.
func NewSessions(ttl time.Duration, factory func() *Controller) *Sessions {
	return &Sessions{
		ttl:     ttl,
		now:     time.Now,
		factory: factory,
		byID:    make(map[string]*session),
	}
}

// Get returns the controller for id and marks the session as used.
func (s *Sessions) Get(id string) (*Controller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.sweepLocked(now)
	e, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	e.lastSeen = now
	return e.ctrl, true
}

// Create starts a new session and returns its id and controller.
func (s *Sessions) Create() (string, *Controller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.sweepLocked(now)
	id := util.NewID()
	ctrl := s.factory()
	s.byID[id] = &session{ctrl: ctrl, lastSeen: now}
	return id, ctrl
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

func (s *Sessions) sweepLocked(now time.Time) {
	if s.ttl <= 0 {
		return
	}
	for id, e := range s.byID {
		if now.Sub(e.lastSeen) > s.ttl {
			delete(s.byID, id)
		}
	}
}
