package runtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"lets-chat/contract"
	"lets-chat/domain"
	"lets-chat/domain/event"
	"lets-chat/errors"
	"lets-chat/mocks"
	"lets-chat/observability"

	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type recordingSink struct {
	id     domain.ConnectionID
	mu     sync.Mutex
	events []event.Outbound
}

func newRecordingSink() *recordingSink {
	return &recordingSink{id: domain.NewConnectionID()}
}

func (r *recordingSink) ID() domain.ConnectionID { return r.id }

func (r *recordingSink) Consume(_ context.Context, e event.Outbound) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingSink) ofKind(kind event.Type) []event.Outbound {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.Outbound
	for _, e := range r.events {
		if e.Kind() == kind {
			out = append(out, e)
		}
	}
	return out
}

func (r *recordingSink) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// blockingSink never accepts an event before its deadline.
type blockingSink struct {
	id domain.ConnectionID
}

func (b blockingSink) ID() domain.ConnectionID { return b.id }

func (b blockingSink) Consume(ctx context.Context, _ event.Outbound) error {
	<-ctx.Done()
	return ctx.Err()
}

var (
	alice = domain.Identity{UserID: "alice", Username: "Alice", Email: "alice@example.com"}
	bob   = domain.Identity{UserID: "bob", Username: "Bob", Email: "bob@example.com"}
	carol = domain.Identity{UserID: "carol", Username: "Carol", Email: "carol@example.com"}
)

type fixture struct {
	engine   *Engine
	registry *Registry
	metrics  *observability.Metrics
	verifier *mocks.MockIVerifier
}

func newFixture(t *testing.T, config EngineConfig) fixture {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	verifier := mocks.NewMockIVerifier(ctrl)
	registry := NewRegistry(log)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	if config.SinkTimeout == 0 {
		config.SinkTimeout = time.Second
	}
	return fixture{
		engine:   NewEngine(log, registry, verifier, metrics, config),
		registry: registry,
		metrics:  metrics,
		verifier: verifier,
	}
}

func (f fixture) connect(t *testing.T, identity domain.Identity) (*Session, *recordingSink) {
	t.Helper()
	sink := newRecordingSink()
	session := f.engine.Open(sink)
	require.NoError(t, f.engine.Admit(context.Background(), session, identity))
	return session, sink
}

func frame(t *testing.T, kind event.Type, data any) []byte {
	t.Helper()
	payload, err := json.Marshal(data)
	require.NoError(t, err)
	raw, err := json.Marshal(event.Envelope{Type: kind, Data: payload})
	require.NoError(t, err)
	return raw
}

func TestEngine_Admit_Presence(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, EngineConfig{})

	// Given alice is the only one online
	_, a1 := f.connect(t, alice)
	req.Equal([]event.Outbound{event.OnlineUsers{"alice"}}, a1.ofKind(event.OnlineUsersType))

	// When bob connects
	_, b1 := f.connect(t, bob)

	// Then alice learns about bob and bob gets a snapshot including himself
	req.Equal([]event.Outbound{event.UserOnline{UserID: "bob", Username: "Bob"}}, a1.ofKind(event.UserOnlineType))
	req.Equal([]event.Outbound{event.OnlineUsers{"alice", "bob"}}, b1.ofKind(event.OnlineUsersType))
	req.Empty(b1.ofKind(event.UserOnlineType))

	// When bob opens a second connection, nobody is told again
	_, b2 := f.connect(t, bob)
	req.Len(a1.ofKind(event.UserOnlineType), 1)
	req.Empty(b1.ofKind(event.UserOnlineType))
	req.Equal([]event.Outbound{event.OnlineUsers{"alice", "bob"}}, b2.ofKind(event.OnlineUsersType))

	req.Equal(float64(3), testutil.ToFloat64(f.metrics.ConnectionsActive))
	req.Equal(float64(2), testutil.ToFloat64(f.metrics.UsersOnline))
}

func TestEngine_SendMessage_SelfEcho_Exactly_Once(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, EngineConfig{})

	s1, c1 := f.connect(t, alice)
	_, c2 := f.connect(t, alice)
	_, c3 := f.connect(t, alice)
	_, b1 := f.connect(t, bob)

	err := f.engine.Handle(ctx, s1, frame(t, event.SendMessageType, event.SendMessage{
		Content:          "  hello bob  ",
		ReceiverID:       "bob",
		ReceiverUsername: "Bob",
	}))
	req.NoError(err)

	for _, sink := range []*recordingSink{c1, c2, c3, b1} {
		messages := sink.ofKind(event.MessageType)
		req.Len(messages, 1)
		live := messages[0].(event.LiveMessage)
		req.Equal("hello bob", live.Content)
		req.Equal("alice_bob", live.ConversationID)
		req.Equal("alice", live.SenderID)
		req.Equal("Alice", live.SenderUsername)
		req.Equal("bob", live.ReceiverID)
		req.Equal("Bob", live.ReceiverUsername)
		req.False(live.IsRead)
		req.False(live.CreatedAt.IsZero())
	}
	// Every copy is the same message
	req.Equal(c1.ofKind(event.MessageType), b1.ofKind(event.MessageType))
}

func TestEngine_SendMessage_To_Self_Is_Delivered_Once_Per_Connection(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, EngineConfig{})
	s1, c1 := f.connect(t, alice)
	_, c2 := f.connect(t, alice)

	req.NoError(f.engine.Handle(context.Background(), s1, frame(t, event.SendMessageType, event.SendMessage{
		Content: "note to self", ReceiverID: "alice",
	})))

	req.Len(c1.ofKind(event.MessageType), 1)
	req.Len(c2.ofKind(event.MessageType), 1)
}

func TestEngine_SendMessage_Offline_Receiver(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, EngineConfig{})
	s1, c1 := f.connect(t, alice)
	_, b1 := f.connect(t, bob)

	// carol is offline: the sender still gets the echo and no error
	req.NoError(f.engine.Handle(context.Background(), s1, frame(t, event.SendMessageType, event.SendMessage{
		Content: "are you there?", ReceiverID: "carol",
	})))

	req.Len(c1.ofKind(event.MessageType), 1)
	req.Empty(c1.ofKind(event.ErrorType))
	req.Empty(b1.ofKind(event.MessageType))
}

func TestEngine_SendMessage_Validation_Errors_Go_To_Self_Only(t *testing.T) {
	tests := []struct {
		name string
		raw  func(t *testing.T) []byte
		want string
	}{
		{"empty content", func(t *testing.T) []byte {
			return frame(t, event.SendMessageType, event.SendMessage{Content: "   ", ReceiverID: "bob"})
		}, "message content is required"},
		{"missing receiver", func(t *testing.T) []byte {
			return frame(t, event.SendMessageType, event.SendMessage{Content: "hi"})
		}, "receiver ID is required"},
		{"conversation mismatch", func(t *testing.T) []byte {
			return frame(t, event.SendMessageType, event.SendMessage{Content: "hi", ReceiverID: "bob", ConversationID: "bob_carol"})
		}, "conversation ID does not match participants"},
		{"malformed json", func(t *testing.T) []byte { return []byte("{not json") }, ""},
		{"unknown type", func(t *testing.T) []byte { return frame(t, "dance", struct{}{}) }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			f := newFixture(t, EngineConfig{})
			s1, c1 := f.connect(t, alice)
			_, b1 := f.connect(t, bob)

			req.NoError(f.engine.Handle(context.Background(), s1, tt.raw(t)))

			errs := c1.ofKind(event.ErrorType)
			req.Len(errs, 1)
			if tt.want != "" {
				req.Equal(event.Error{Message: tt.want}, errs[0])
			}
			req.Empty(c1.ofKind(event.MessageType))
			req.Empty(b1.ofKind(event.MessageType))
			req.Empty(b1.ofKind(event.ErrorType))
			// the session stays usable
			req.Equal(domain.Authenticated, s1.State())
		})
	}
}

func TestEngine_Unauthenticated_Session(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, EngineConfig{})
	_, b1 := f.connect(t, bob)

	sink := newRecordingSink()
	session := f.engine.Open(sink)

	err := f.engine.Handle(ctx, session, frame(t, event.SendMessageType, event.SendMessage{Content: "hi", ReceiverID: "bob"}))
	req.ErrorIs(err, errors.ErrNotAuthenticated)
	req.Equal([]event.Outbound{event.Error{Message: "user not authenticated"}}, sink.ofKind(event.ErrorType))
	req.Empty(b1.ofKind(event.MessageType))

	err = f.engine.Handle(ctx, session, []byte("garbage"))
	req.ErrorIs(err, errors.ErrNotAuthenticated)
}

func TestEngine_Authenticate_In_Band(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, EngineConfig{})

	f.verifier.EXPECT().Verify("bad").Return(domain.Identity{}, errors.ErrInvalidToken)
	f.verifier.EXPECT().Verify("good").Return(alice, nil)

	sink := newRecordingSink()
	session := f.engine.Open(sink)
	err := f.engine.Handle(ctx, session, frame(t, event.AuthenticateType, event.Authenticate{Token: "bad"}))
	req.ErrorIs(err, errors.ErrInvalidToken)
	req.Equal([]event.Outbound{event.Error{Message: "invalid or expired token"}}, sink.ofKind(event.ErrorType))
	req.Equal(float64(1), testutil.ToFloat64(f.metrics.AuthFailures))

	sink2 := newRecordingSink()
	session2 := f.engine.Open(sink2)
	req.NoError(f.engine.Handle(ctx, session2, frame(t, event.AuthenticateType, event.Authenticate{Token: "good"})))
	req.Equal(domain.Authenticated, session2.State())
	req.Equal(alice, session2.Identity())
	req.Equal([]event.Outbound{event.OnlineUsers{"alice"}}, sink2.ofKind(event.OnlineUsersType))

	// a second authenticate is ignored
	req.NoError(f.engine.Handle(ctx, session2, frame(t, event.AuthenticateType, event.Authenticate{Token: "good-again"})))
	req.Empty(sink2.ofKind(event.ErrorType))
}

func TestEngine_Typing(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, EngineConfig{})
	s1, c1 := f.connect(t, alice)
	_, b1 := f.connect(t, bob)
	_, b2 := f.connect(t, bob)

	req.NoError(f.engine.Handle(context.Background(), s1, frame(t, event.TypingType, event.Typing{ReceiverID: "bob", IsTyping: true})))

	want := []event.Outbound{event.TypingNotice{UserID: "alice", Username: "Alice", IsTyping: true}}
	req.Equal(want, b1.ofKind(event.TypingType))
	req.Equal(want, b2.ofKind(event.TypingType))
	req.Empty(c1.ofKind(event.TypingType))
}

func TestEngine_MarkAsRead_Relay(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, EngineConfig{})
	_, a1 := f.connect(t, alice)
	_, a2 := f.connect(t, alice)
	s, b1 := f.connect(t, bob)

	req.NoError(f.engine.Handle(ctx, s, frame(t, event.MarkAsReadType, event.MarkAsRead{ConversationID: "alice_bob", SenderID: "alice"})))

	want := []event.Outbound{event.MessageRead{ConversationID: "alice_bob", ReadBy: "bob"}}
	req.Equal(want, a1.ofKind(event.MessageReadType))
	req.Equal(want, a2.ofKind(event.MessageReadType))
	req.Empty(b1.ofKind(event.MessageReadType))

	// relaying twice is harmless
	req.NoError(f.engine.Handle(ctx, s, frame(t, event.MarkAsReadType, event.MarkAsRead{ConversationID: "alice_bob", SenderID: "alice"})))
	req.Len(a1.ofKind(event.MessageReadType), 2)

	// bob cannot relay receipts for a conversation he is not part of
	req.NoError(f.engine.Handle(ctx, s, frame(t, event.MarkAsReadType, event.MarkAsRead{ConversationID: "alice_carol", SenderID: "alice"})))
	req.Len(b1.ofKind(event.ErrorType), 1)
	req.Len(a1.ofKind(event.MessageReadType), 2)
}

func TestEngine_NotifyRead(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, EngineConfig{})
	_, a1 := f.connect(t, alice)

	f.engine.NotifyRead(context.Background(), "alice_bob", "bob", "alice")
	f.engine.NotifyRead(context.Background(), "alice_bob", "bob", "carol")

	req.Equal([]event.Outbound{event.MessageRead{ConversationID: "alice_bob", ReadBy: "bob"}}, a1.ofKind(event.MessageReadType))
}

func TestEngine_Close_Offline_Once(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, EngineConfig{})
	ctrl := gomock.NewController(t)
	observer := mocks.NewMockPresenceObserver(ctrl)
	f.engine.Observe(observer)

	observer.EXPECT().OnPresenceChange(gomock.Any(), "bob", true, gomock.Any()).Times(1)
	observer.EXPECT().OnPresenceChange(gomock.Any(), "alice", true, gomock.Any()).Times(1)
	observer.EXPECT().OnPresenceChange(gomock.Any(), "alice", false, gomock.Any()).Times(1)

	_, b1 := f.connect(t, bob)
	s1, _ := f.connect(t, alice)
	s2, _ := f.connect(t, alice)
	b1.reset()

	// closing one of two connections is silent
	f.engine.Close(ctx, s1)
	req.Empty(b1.ofKind(event.UserOfflineType))
	req.True(f.registry.IsOnline("alice"))

	// closing the last one broadcasts once
	f.engine.Close(ctx, s2)
	f.engine.Close(ctx, s2)
	req.Equal([]event.Outbound{event.UserOffline{UserID: "alice", Username: "Alice"}}, b1.ofKind(event.UserOfflineType))
	req.False(f.registry.IsOnline("alice"))
	req.Equal(domain.Closed, s2.State())

	// a closed session rejects frames and cannot be admitted again
	req.ErrorIs(f.engine.Handle(ctx, s2, frame(t, event.GetOnlineUsersType, struct{}{})), errors.ErrSessionClosed)
	req.ErrorIs(f.engine.Admit(ctx, s2, alice), errors.ErrSessionClosed)

	// closing a session that never authenticated changes nothing
	f.engine.Close(ctx, f.engine.Open(newRecordingSink()))
	req.Equal(float64(1), testutil.ToFloat64(f.metrics.ConnectionsActive))
}

// holdingSink records events and parks the first userOffline it receives
// until release is closed.
type holdingSink struct {
	*recordingSink
	once    sync.Once
	held    chan struct{}
	release chan struct{}
}

func (h *holdingSink) Consume(ctx context.Context, e event.Outbound) error {
	if e.Kind() == event.UserOfflineType {
		parked := false
		h.once.Do(func() { parked = true })
		if parked {
			close(h.held)
			<-h.release
		}
	}
	return h.recordingSink.Consume(ctx, e)
}

func (r *recordingSink) lastPresence() event.Outbound {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		switch r.events[i].Kind() {
		case event.UserOnlineType, event.UserOfflineType:
			return r.events[i]
		}
	}
	return nil
}

func TestEngine_Reconnect_While_Offline_Broadcast_In_Flight(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, EngineConfig{SinkTimeout: 5 * time.Second})

	watcher := &holdingSink{recordingSink: newRecordingSink(), held: make(chan struct{}), release: make(chan struct{})}
	req.NoError(f.engine.Admit(ctx, f.engine.Open(watcher), bob))
	old, _ := f.connect(t, alice)

	// Given alice's only tab is closing and bob has not yet been told
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		f.engine.Close(ctx, old)
	}()
	<-watcher.held

	// When alice's refreshed tab connects meanwhile
	admitted := make(chan error, 1)
	go func() {
		admitted <- f.engine.Admit(ctx, f.engine.Open(newRecordingSink()), alice)
	}()

	// Then it waits for the offline transition to finish
	select {
	case <-admitted:
		req.Fail("alice was admitted while her offline broadcast was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(watcher.release)
	<-closed
	req.NoError(<-admitted)

	// and bob ends up with the same view as the registry
	req.True(f.registry.IsOnline("alice"))
	req.Equal(event.UserOnline{UserID: "alice", Username: "Alice"}, watcher.lastPresence())
	req.Zero(f.engine.presence.size())
}

func TestUserLocks_Serializes_Per_User_Only(t *testing.T) {
	req := require.New(t)
	locks := newUserLocks()

	releaseAlice := locks.lock("alice")
	// another user is never held up
	locks.lock("bob")()

	acquired := make(chan struct{})
	go func() {
		locks.lock("alice")()
		close(acquired)
	}()
	select {
	case <-acquired:
		req.Fail("second holder got alice's lock")
	case <-time.After(20 * time.Millisecond):
	}
	releaseAlice()
	<-acquired
	req.Zero(locks.size())
}

func TestEngine_GetOnlineUsers(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, EngineConfig{})
	s1, c1 := f.connect(t, alice)
	f.connect(t, carol)
	c1.reset()

	req.NoError(f.engine.Handle(context.Background(), s1, frame(t, event.GetOnlineUsersType, nil)))
	req.Equal([]event.Outbound{event.OnlineUsers{"alice", "carol"}}, c1.ofKind(event.OnlineUsersType))
}

func TestEngine_Rate_Limit(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, EngineConfig{MessageRate: 0.001, MessageBurst: 2})
	s1, c1 := f.connect(t, alice)

	for i := 0; i < 3; i++ {
		req.NoError(f.engine.Handle(context.Background(), s1, frame(t, event.SendMessageType, event.SendMessage{Content: "spam", ReceiverID: "bob"})))
	}
	req.Len(c1.ofKind(event.MessageType), 2)
	req.Equal([]event.Outbound{event.Error{Message: "rate limit exceeded"}}, c1.ofKind(event.ErrorType))
}

func TestEngine_Censor(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, EngineConfig{})
	ctrl := gomock.NewController(t)
	censor := mocks.NewMockCensor(ctrl)
	censor.EXPECT().Censor("you moron").Return("you *****", []string{"moron"})
	f.engine.WithCensor(censor)
	s1, c1 := f.connect(t, alice)

	req.NoError(f.engine.Handle(context.Background(), s1, frame(t, event.SendMessageType, event.SendMessage{Content: "you moron", ReceiverID: "bob"})))
	req.Equal("you *****", c1.ofKind(event.MessageType)[0].(event.LiveMessage).Content)
}

func TestEngine_Slow_Sink_Does_Not_Block_Others(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, EngineConfig{SinkTimeout: 20 * time.Millisecond})
	s1, c1 := f.connect(t, alice)

	slow := blockingSink{id: domain.NewConnectionID()}
	f.registry.Register("bob", slow)
	_, b1 := f.connect(t, bob)

	req.NoError(f.engine.Handle(context.Background(), s1, frame(t, event.SendMessageType, event.SendMessage{Content: "hi", ReceiverID: "bob"})))

	req.Len(c1.ofKind(event.MessageType), 1)
	req.Len(b1.ofKind(event.MessageType), 1)
	req.Empty(c1.ofKind(event.ErrorType))
	req.GreaterOrEqual(testutil.ToFloat64(f.metrics.EventsDropped), float64(1))
}

var _ contract.EventSink = (*recordingSink)(nil)
