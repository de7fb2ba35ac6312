package runtime

import (
	"sync"

	"lets-chat/contract"
	"lets-chat/domain"

	"golang.org/x/time/rate"
)

// Session is the per-connection state machine:
// Unauthenticated -> Authenticated -> Closed. Closed is terminal.
type Session struct {
	sink    contract.EventSink
	limiter *rate.Limiter

	mu       sync.Mutex
	state    domain.SessionState
	identity domain.Identity
}

func (s *Session) ID() domain.ConnectionID { return s.sink.ID() }

func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Identity is only meaningful once the session is authenticated.
func (s *Session) Identity() domain.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

func (s *Session) snapshot() (domain.SessionState, domain.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.identity
}
