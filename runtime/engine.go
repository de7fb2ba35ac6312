// Package runtime holds the live side of the chat: who is online, and how
// client events turn into server events on the right connections.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"lets-chat/contract"
	"lets-chat/domain"
	"lets-chat/domain/event"
	"lets-chat/errors"
	"lets-chat/observability"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/time/rate"
)

type EngineConfig struct {
	SinkTimeout  time.Duration
	MessageRate  float64 // sendMessage + typing events per second per connection, <= 0 disables
	MessageBurst int
}

// Engine is the realtime fan-out engine. It never touches durable storage:
// live messages are built from the send event alone.
//
// The live copy of a message and the durable one (POST /api/messages) are
// produced independently, so a receiver may see a message that later fails
// to persist, or with a different id and timestamp than the stored record.
// Gating live delivery on the durable write would close that window.
type Engine struct {
	log       *slog.Logger
	registry  contract.IRegistry
	verifier  contract.IVerifier
	metrics   *observability.Metrics
	censor    contract.Censor
	observers []contract.PresenceObserver
	presence  *userLocks
	config    EngineConfig
	now       func() time.Time
}

func NewEngine(log *slog.Logger, registry contract.IRegistry, verifier contract.IVerifier,
	metrics *observability.Metrics, config EngineConfig) *Engine {
	return &Engine{
		log:      log,
		registry: registry,
		verifier: verifier,
		metrics:  metrics,
		presence: newUserLocks(),
		config:   config,
		now:      time.Now,
	}
}

// WithCensor enables content moderation on live messages.
func (e *Engine) WithCensor(censor contract.Censor) *Engine {
	e.censor = censor
	return e
}

func (e *Engine) Observe(observers ...contract.PresenceObserver) *Engine {
	e.observers = append(e.observers, observers...)
	return e
}

// Open starts an unauthenticated session over the given sink.
func (e *Engine) Open(sink contract.EventSink) *Session {
	limit, burst := rate.Inf, e.config.MessageBurst
	if e.config.MessageRate > 0 {
		limit = rate.Limit(e.config.MessageRate)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Session{
		sink:    sink,
		limiter: rate.NewLimiter(limit, burst),
		state:   domain.Unauthenticated,
	}
}

// Authenticate verifies the credential and admits the session. On failure the
// client gets an error event and the caller is expected to close.
func (e *Engine) Authenticate(ctx context.Context, s *Session, credential string) error {
	identity, err := e.verifier.Verify(credential)
	if err != nil {
		e.metrics.AuthFailures.Inc()
		e.log.Debug("Credential rejected", "connection_id", s.ID(), "error", err)
		e.fail(ctx, s, err)
		return err
	}
	return e.Admit(ctx, s, identity)
}

// Admit binds an already verified identity to the session and registers it.
// Registration and the userOnline broadcast it may trigger form one step with
// respect to the user's other connections opening or closing.
func (e *Engine) Admit(ctx context.Context, s *Session, identity domain.Identity) error {
	release := e.presence.lock(identity.UserID)
	defer release()

	s.mu.Lock()
	switch s.state {
	case domain.Closed:
		s.mu.Unlock()
		return errors.ErrSessionClosed
	case domain.Authenticated:
		s.mu.Unlock()
		e.log.Debug("Session already authenticated", "connection_id", s.ID(), "user_id", identity.UserID)
		return nil
	}
	s.state = domain.Authenticated
	s.identity = identity
	first := e.registry.Register(identity.UserID, s.sink)
	s.mu.Unlock()

	e.metrics.ConnectionsActive.Inc()
	e.log.Info("User connected", "user_id", identity.UserID, "username", identity.Username,
		"connection_id", s.ID(), "first_connection", first)

	if first {
		e.metrics.UsersOnline.Inc()
		e.broadcastOthers(ctx, identity.UserID, event.UserOnline{UserID: identity.UserID, Username: identity.Username})
		e.notifyPresence(ctx, identity.UserID, true)
	}
	e.deliver(ctx, []contract.EventSink{s.sink}, event.OnlineUsers(e.registry.OnlineUserIDs()))
	return nil
}

// Handle processes one client frame. Frames of one connection must be handled
// in arrival order. A non-nil error means the connection must be closed;
// validation problems are reported to the client and return nil.
func (e *Engine) Handle(ctx context.Context, s *Session, raw []byte) error {
	state, identity := s.snapshot()
	if state == domain.Closed {
		return errors.ErrSessionClosed
	}

	in, err := event.Decode(raw)
	if err != nil {
		e.metrics.EventsInbound.WithLabelValues("invalid").Inc()
		if state == domain.Unauthenticated {
			e.fail(ctx, s, errors.ErrNotAuthenticated)
			return errors.ErrNotAuthenticated
		}
		e.log.Debug("Rejected client frame", "user_id", identity.UserID, "error", err)
		e.fail(ctx, s, err)
		return nil
	}
	e.metrics.EventsInbound.WithLabelValues(string(in.Kind())).Inc()

	if state == domain.Unauthenticated {
		auth, ok := in.(event.Authenticate)
		if !ok {
			e.fail(ctx, s, errors.ErrNotAuthenticated)
			return errors.ErrNotAuthenticated
		}
		return e.Authenticate(ctx, s, auth.Token)
	}

	switch evt := in.(type) {
	case event.Authenticate:
		e.log.Debug("Ignoring authenticate on an authenticated session", "user_id", identity.UserID)
		err = nil
	case event.GetOnlineUsers:
		e.deliver(ctx, []contract.EventSink{s.sink}, event.OnlineUsers(e.registry.OnlineUserIDs()))
	case event.Typing:
		err = e.typing(ctx, s, identity, evt)
	case event.SendMessage:
		err = e.sendMessage(ctx, s, identity, evt)
	case event.MarkAsRead:
		err = e.markAsRead(ctx, identity, evt)
	default:
		err = fmt.Errorf("%w: %q", errors.ErrUnknownEvent, in.Kind())
	}
	if err != nil {
		e.log.Debug("Client event rejected", "user_id", identity.UserID, "type", in.Kind(), "error", err)
		e.fail(ctx, s, err)
	}
	return nil
}

// Close ends the session. It is idempotent.
func (e *Engine) Close(ctx context.Context, s *Session) {
	s.mu.Lock()
	previous, identity := s.state, s.identity
	s.state = domain.Closed
	s.mu.Unlock()

	if previous != domain.Authenticated {
		return
	}
	release := e.presence.lock(identity.UserID)
	defer release()

	e.metrics.ConnectionsActive.Dec()
	last := e.registry.Unregister(identity.UserID, s.ID())
	e.log.Info("User disconnected", "user_id", identity.UserID, "connection_id", s.ID(), "last_connection", last)

	if last {
		e.metrics.UsersOnline.Dec()
		e.broadcastOthers(ctx, identity.UserID, event.UserOffline{UserID: identity.UserID, Username: identity.Username})
		e.notifyPresence(ctx, identity.UserID, false)
	}
}

// NotifyRead pushes a read receipt to every connection of the original sender.
func (e *Engine) NotifyRead(ctx context.Context, conversationID, readerID, senderID string) {
	e.deliver(ctx, e.registry.ConnectionsFor(senderID), event.MessageRead{ConversationID: conversationID, ReadBy: readerID})
}

func (e *Engine) typing(ctx context.Context, s *Session, identity domain.Identity, evt event.Typing) error {
	if !s.limiter.Allow() {
		return errors.ErrRateLimited
	}
	if err := domain.ValidateUserID(evt.ReceiverID); err != nil {
		return err
	}
	e.deliver(ctx, e.registry.ConnectionsFor(evt.ReceiverID), event.TypingNotice{
		UserID:   identity.UserID,
		Username: identity.Username,
		IsTyping: evt.IsTyping,
	})
	return nil
}

func (e *Engine) sendMessage(ctx context.Context, s *Session, identity domain.Identity, evt event.SendMessage) error {
	if !s.limiter.Allow() {
		return errors.ErrRateLimited
	}
	if err := domain.ValidateUserID(evt.ReceiverID); err != nil {
		return err
	}
	content, err := domain.NormalizeContent(evt.Content)
	if err != nil {
		return err
	}
	conversationID := domain.ConversationID(identity.UserID, evt.ReceiverID)
	if evt.ConversationID != "" && evt.ConversationID != conversationID {
		return errors.ErrConversationMismatch
	}
	if e.censor != nil {
		content, _ = e.censor.Censor(content)
	}

	message := event.LiveMessage{Message: domain.Message{
		ID:               uuid.New(),
		SenderID:         identity.UserID,
		ReceiverID:       evt.ReceiverID,
		SenderUsername:   identity.Username,
		ReceiverUsername: evt.ReceiverUsername,
		Content:          content,
		ConversationID:   conversationID,
		CreatedAt:        e.now().UTC(),
	}}

	recipients := append(e.registry.ConnectionsFor(evt.ReceiverID), e.registry.ConnectionsFor(identity.UserID)...)
	recipients = lo.UniqBy(recipients, func(sink contract.EventSink) domain.ConnectionID { return sink.ID() })
	e.deliver(ctx, recipients, message)
	return nil
}

func (e *Engine) markAsRead(ctx context.Context, identity domain.Identity, evt event.MarkAsRead) error {
	peer, err := domain.ConversationPeer(evt.ConversationID, identity.UserID)
	if err != nil {
		return err
	}
	if peer != evt.SenderID {
		return errors.ErrConversationMismatch
	}
	e.NotifyRead(ctx, evt.ConversationID, identity.UserID, evt.SenderID)
	return nil
}

func (e *Engine) broadcastOthers(ctx context.Context, self string, out event.Outbound) {
	for _, userID := range e.registry.OnlineUserIDs() {
		if userID == self {
			continue
		}
		e.deliver(ctx, e.registry.ConnectionsFor(userID), out)
	}
}

func (e *Engine) notifyPresence(ctx context.Context, userID string, online bool) {
	at := e.now().UTC()
	for _, o := range e.observers {
		o.OnPresenceChange(ctx, userID, online, at)
	}
}

func (e *Engine) fail(ctx context.Context, s *Session, err error) {
	e.deliver(ctx, []contract.EventSink{s.sink}, event.Error{Message: errors.Public(err)})
}

// deliver hands the event to each sink under its own timeout. A slow or failed
// sink only loses its own copy. Delivery outlives the caller's context so that
// a closing connection still reaches everyone else.
func (e *Engine) deliver(ctx context.Context, sinks []contract.EventSink, out event.Outbound) {
	base := context.WithoutCancel(ctx)
	for _, sink := range sinks {
		sinkCtx, cancel := context.WithTimeout(base, e.config.SinkTimeout)
		err := sink.Consume(sinkCtx, out)
		cancel()
		if err != nil {
			e.metrics.EventsDropped.Inc()
			e.log.Warn("Event not delivered", "connection_id", sink.ID(), "type", out.Kind(), "error", err)
			continue
		}
		e.metrics.EventsOutbound.WithLabelValues(string(out.Kind())).Inc()
	}
}
