package runtime

import (
	"log/slog"
	"sort"
	"sync"

	"lets-chat/contract"
	"lets-chat/domain"
	"lets-chat/errors"
)

type connections map[domain.ConnectionID]contract.EventSink

// Registry is the presence authority: a user is online while at least one of
// their connections is registered. All methods are safe for concurrent use and
// never do I/O while holding the lock.
type Registry struct {
	mu    sync.RWMutex
	users map[string]connections
	log   *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{users: make(map[string]connections), log: log}
}

// Register adds a connection for the user and reports whether the user just
// went from offline to online.
func (r *Registry) Register(userID string, sink contract.EventSink) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.users[userID]
	if !ok {
		conns = make(connections)
		r.users[userID] = conns
	}
	conns[sink.ID()] = sink
	return !ok
}

// Unregister removes a connection and reports whether the user just went
// offline. Removing a connection that was never registered is a no-op.
func (r *Registry) Unregister(userID string, connectionID domain.ConnectionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.users[userID]
	if !ok {
		r.log.Warn("Unregister ignored", "user_id", userID, "connection_id", connectionID, "error", errors.ErrUnknownConnection)
		return false
	}
	if _, ok = conns[connectionID]; !ok {
		r.log.Warn("Unregister ignored", "user_id", userID, "connection_id", connectionID, "error", errors.ErrUnknownConnection)
		return false
	}

	delete(conns, connectionID)
	if len(conns) == 0 {
		delete(r.users, userID)
		return true
	}
	return false
}

// OnlineUserIDs returns a sorted snapshot of online users.
func (r *Registry) OnlineUserIDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// ConnectionsFor returns a snapshot of the user's live connections. Empty
// means offline.
func (r *Registry) ConnectionsFor(userID string) []contract.EventSink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.users[userID]
	sinks := make([]contract.EventSink, 0, len(conns))
	for _, sink := range conns {
		sinks = append(sinks, sink)
	}
	return sinks
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[userID]
	return ok
}

func (r *Registry) Stats() (users, connections int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, conns := range r.users {
		connections += len(conns)
	}
	return len(r.users), connections
}
