package workers

import (
	"context"
	"log/slog"
	"time"

	"lets-chat/contract"
)

type presenceChange struct {
	userID string
	online bool
	at     time.Time
}

// PresenceRecorder persists lastSeen off the live path. The engine hands it
// transitions without blocking; the worker writes them to the user store.
type PresenceRecorder struct {
	log     *slog.Logger
	users   contract.IUserRepository
	changes chan presenceChange
	timeout time.Duration
}

func NewPresenceRecorder(log *slog.Logger, users contract.IUserRepository, bufferSize int, timeout time.Duration) *PresenceRecorder {
	return &PresenceRecorder{
		log:     log,
		users:   users,
		changes: make(chan presenceChange, bufferSize),
		timeout: timeout,
	}
}

// OnPresenceChange never blocks. When the buffer is full the change is lost
// and lastSeen lags until the next transition.
func (r *PresenceRecorder) OnPresenceChange(_ context.Context, userID string, online bool, at time.Time) {
	select {
	case r.changes <- presenceChange{userID: userID, online: online, at: at}:
	default:
		r.log.Warn("Presence change dropped", "user_id", userID, "online", online)
	}
}

func (r *PresenceRecorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return nil
		case change := <-r.changes:
			r.record(ctx, change)
		}
	}
}

// drain flushes what is already queued so a shutdown keeps the last lastSeen.
func (r *PresenceRecorder) drain() {
	for {
		select {
		case change := <-r.changes:
			r.record(context.Background(), change)
		default:
			return
		}
	}
}

func (r *PresenceRecorder) record(ctx context.Context, change presenceChange) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err := r.users.UpdateLastSeen(ctx, change.userID, change.at); err != nil {
		r.log.Warn("Failed to record last seen", "user_id", change.userID, "online", change.online, "error", err)
	}
}
