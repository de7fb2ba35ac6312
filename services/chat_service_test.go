package services_test

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"lets-chat/contract"
	"lets-chat/domain"
	"lets-chat/errors"
	"lets-chat/mocks"
	"lets-chat/observability"
	"lets-chat/repositories"
	"lets-chat/services"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var (
	alice = domain.Identity{UserID: "11111111-1111-1111-1111-111111111111", Username: "alice", Email: "alice@example.com"}
	bob   = domain.User{ID: "22222222-2222-2222-2222-222222222222", Username: "bob", Email: "bob@example.com"}
)

type fixture struct {
	service  *services.ChatService
	messages *mocks.MockIMessageRepository
	users    *mocks.MockIUserRepository
	index    *mocks.MockIMessageIndex
	notifier *mocks.MockReadNotifier
	metrics  *observability.Metrics
}

func newFixture(t *testing.T) fixture {
	ctrl := gomock.NewController(t)
	f := fixture{
		messages: mocks.NewMockIMessageRepository(ctrl),
		users:    mocks.NewMockIUserRepository(ctrl),
		index:    mocks.NewMockIMessageIndex(ctrl),
		notifier: mocks.NewMockReadNotifier(ctrl),
		metrics:  observability.NewMetrics(prometheus.NewRegistry()),
	}
	f.service = services.NewChatService(logs.GetLoggerFromLevel(slog.LevelDebug),
		f.messages, f.users, f.index, f.notifier, f.metrics, services.HistoryLimits{Default: 50, Max: 100})
	return f
}

func TestChatService_Send(t *testing.T) {
	ctx := context.Background()
	conversationID := domain.ConversationID(alice.UserID, bob.ID)

	t.Run("should store and index a message", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		id := uuid.New()

		f.users.EXPECT().GetUserByID(ctx, bob.ID).Return(bob, nil)
		f.messages.EXPECT().Append(ctx, gomock.Any()).DoAndReturn(
			func(_ context.Context, m domain.Message) (domain.Message, error) {
				req.Equal(conversationID, m.ConversationID)
				req.Equal("hello", m.Content)
				req.Equal("bob", m.ReceiverUsername)
				req.False(m.IsRead)
				m.ID = id
				return m, nil
			})
		f.index.EXPECT().Index(ctx, gomock.Any()).Return(nil)

		stored, err := f.service.Send(ctx, alice, bob.ID, "  hello ")
		req.NoError(err)
		req.Equal(id, stored.ID)
		req.Equal(alice.UserID, stored.SenderID)
		req.Equal(1.0, testutil.ToFloat64(f.metrics.MessagesStored))
	})

	t.Run("should refuse an unknown receiver", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		f.users.EXPECT().GetUserByID(ctx, bob.ID).Return(domain.User{}, errors.ErrUserNotFound)
		f.messages.EXPECT().Append(gomock.Any(), gomock.Any()).Times(0)

		_, err := f.service.Send(ctx, alice, bob.ID, "hello")
		req.ErrorIs(err, errors.ErrReceiverNotFound)
	})

	t.Run("should validate before any lookup", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)

		_, err := f.service.Send(ctx, alice, "", "hello")
		req.ErrorIs(err, errors.ErrMissingReceiver)
		_, err = f.service.Send(ctx, alice, bob.ID, "   ")
		req.ErrorIs(err, errors.ErrEmptyContent)
		_, err = f.service.Send(ctx, alice, bob.ID, strings.Repeat("é", domain.MaxContentLength+1))
		req.ErrorIs(err, errors.ErrContentTooLong)
		_, err = f.service.Send(ctx, alice, "a_b", "hello")
		req.ErrorIs(err, errors.ErrInvalidUserID)
	})

	t.Run("should keep the message when indexing fails", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		f.users.EXPECT().GetUserByID(ctx, bob.ID).Return(bob, nil)
		f.messages.EXPECT().Append(ctx, gomock.Any()).DoAndReturn(
			func(_ context.Context, m domain.Message) (domain.Message, error) { return m, nil })
		f.index.EXPECT().Index(ctx, gomock.Any()).Return(errors.ErrStoreFailure)

		_, err := f.service.Send(ctx, alice, bob.ID, "hello")
		req.NoError(err)
	})

	t.Run("should surface store failures", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		f.users.EXPECT().GetUserByID(ctx, bob.ID).Return(bob, nil)
		f.messages.EXPECT().Append(ctx, gomock.Any()).Return(domain.Message{}, errors.ErrStoreFailure)
		f.index.EXPECT().Index(gomock.Any(), gomock.Any()).Times(0)

		_, err := f.service.Send(ctx, alice, bob.ID, "hello")
		req.ErrorIs(err, errors.ErrStoreFailure)
	})

	t.Run("should censor content before storing", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		censor := mocks.NewMockCensor(gomock.NewController(t))
		f.service.WithCensor(censor)

		f.users.EXPECT().GetUserByID(ctx, bob.ID).Return(bob, nil)
		censor.EXPECT().Censor("you idiot").Return("you *****", []string{"idiot"})
		f.messages.EXPECT().Append(ctx, gomock.Any()).DoAndReturn(
			func(_ context.Context, m domain.Message) (domain.Message, error) { return m, nil })
		f.index.EXPECT().Index(ctx, gomock.Any()).Return(nil)

		stored, err := f.service.Send(ctx, alice, bob.ID, "you idiot")
		req.NoError(err)
		req.Equal("you *****", stored.Content)
	})
}

func TestChatService_History(t *testing.T) {
	ctx := context.Background()
	conversationID := domain.ConversationID(alice.UserID, bob.ID)

	t.Run("should mark read before querying and notify the peer", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		page := []domain.Message{{ID: uuid.New(), ConversationID: conversationID, Content: "hi", IsRead: true}}

		gomock.InOrder(
			f.messages.EXPECT().MarkRead(ctx, conversationID, alice.UserID, gomock.Any()).Return(2, nil),
			f.notifier.EXPECT().NotifyRead(ctx, conversationID, alice.UserID, bob.ID),
			f.messages.EXPECT().Query(ctx, conversationID, 50, nil).Return(page, nil),
		)

		history, err := f.service.History(ctx, alice, bob.ID, 0, nil)
		req.NoError(err)
		req.Equal(conversationID, history.ConversationID)
		req.Equal(page, history.Messages)
		req.Equal(2.0, testutil.ToFloat64(f.metrics.ReadsReconciled))
	})

	t.Run("should not notify when nothing was unread", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		f.messages.EXPECT().MarkRead(ctx, conversationID, alice.UserID, gomock.Any()).Return(0, nil)
		f.notifier.EXPECT().NotifyRead(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
		f.messages.EXPECT().Query(ctx, conversationID, 100, nil).Return([]domain.Message{}, nil)

		history, err := f.service.History(ctx, alice, bob.ID, 5000, nil)
		req.NoError(err)
		req.Empty(history.Messages)
	})

	t.Run("should pass the cursor through", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		before := time.Now()
		f.messages.EXPECT().MarkRead(ctx, conversationID, alice.UserID, gomock.Any()).Return(0, nil)
		f.messages.EXPECT().Query(ctx, conversationID, 10, &before).Return(nil, nil)

		_, err := f.service.History(ctx, alice, bob.ID, 10, &before)
		req.NoError(err)
	})

	t.Run("should fail on mark failure without querying", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		f.messages.EXPECT().MarkRead(ctx, conversationID, alice.UserID, gomock.Any()).Return(0, errors.ErrStoreFailure)
		f.messages.EXPECT().Query(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

		_, err := f.service.History(ctx, alice, bob.ID, 10, nil)
		req.ErrorIs(err, errors.ErrStoreFailure)
	})

	t.Run("should require a peer", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		_, err := f.service.History(ctx, alice, "", 10, nil)
		req.ErrorIs(err, errors.ErrMissingReceiver)
	})
}

func TestChatService_MarkConversationRead(t *testing.T) {
	ctx := context.Background()
	conversationID := domain.ConversationID(alice.UserID, bob.ID)

	t.Run("should notify once then be a no-op", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		gomock.InOrder(
			f.messages.EXPECT().MarkRead(ctx, conversationID, alice.UserID, gomock.Any()).Return(3, nil),
			f.messages.EXPECT().MarkRead(ctx, conversationID, alice.UserID, gomock.Any()).Return(0, nil),
		)
		f.notifier.EXPECT().NotifyRead(ctx, conversationID, alice.UserID, bob.ID).Times(1)

		count, err := f.service.MarkConversationRead(ctx, alice, conversationID)
		req.NoError(err)
		req.Equal(3, count)

		count, err = f.service.MarkConversationRead(ctx, alice, conversationID)
		req.NoError(err)
		req.Zero(count)
	})

	t.Run("should refuse a conversation the viewer is not part of", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		other := domain.ConversationID(bob.ID, "33333333-3333-3333-3333-333333333333")

		_, err := f.service.MarkConversationRead(ctx, alice, other)
		req.ErrorIs(err, errors.ErrNotParticipant)
		_, err = f.service.MarkConversationRead(ctx, alice, "")
		req.ErrorIs(err, errors.ErrMissingConversation)
	})
}

func TestChatService_Search(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	hit := domain.Message{ID: uuid.New(), Content: "hello"}
	stored := hit
	stored.IsRead = true
	f.index.EXPECT().Search(ctx, alice.UserID, "hello", bob.ID, 50).Return([]domain.Message{hit}, nil)
	f.messages.EXPECT().Resolve(ctx, []domain.Message{hit}).Return([]domain.Message{stored}, nil)

	found, err := f.service.Search(ctx, alice, "hello", bob.ID, 0)
	req.NoError(err)
	req.Len(found, 1)
	req.True(found[0].IsRead)

	f.index.EXPECT().Search(ctx, alice.UserID, "nothing", "", 50).Return([]domain.Message{}, nil)
	found, err = f.service.Search(ctx, alice, "nothing", "", 0)
	req.NoError(err)
	req.Empty(found)

	_, err = f.service.Search(ctx, alice, "hello", "a_b", 0)
	req.ErrorIs(err, errors.ErrInvalidUserID)
}

// slowAppend holds every Append until released.
type slowAppend struct {
	contract.IMessageRepository
	started chan struct{}
	release chan struct{}
}

func (s *slowAppend) Append(ctx context.Context, message domain.Message) (domain.Message, error) {
	close(s.started)
	<-s.release
	return s.IMessageRepository.Append(ctx, message)
}

func TestChatService_HistoryDuringInFlightWrite(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)

	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.WARNING))
	req.NoError(err)
	t.Cleanup(func() { _ = db.Close() })

	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	store := &slowAppend{
		IMessageRepository: repositories.NewMessageRepository(db, log),
		started:            make(chan struct{}),
		release:            make(chan struct{}),
	}
	users := mocks.NewMockIUserRepository(ctrl)
	index := mocks.NewMockIMessageIndex(ctrl)
	notifier := mocks.NewMockReadNotifier(ctrl)
	users.EXPECT().GetUserByID(gomock.Any(), bob.ID).Return(bob, nil)
	index.EXPECT().Index(gomock.Any(), gomock.Any()).Return(nil)
	notifier.EXPECT().NotifyRead(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()

	service := services.NewChatService(log, store, users, index, notifier,
		observability.NewMetrics(prometheus.NewRegistry()), services.HistoryLimits{Default: 50, Max: 100})

	sent := make(chan error, 1)
	go func() {
		_, err := service.Send(ctx, alice, bob.ID, "in flight")
		sent <- err
	}()
	<-store.started

	// The pending write is simply not visible yet
	history, err := service.History(ctx, bob.Identity(), alice.UserID, 0, nil)
	req.NoError(err)
	req.Empty(history.Messages)

	close(store.release)
	req.NoError(<-sent)

	history, err = service.History(ctx, bob.Identity(), alice.UserID, 0, nil)
	req.NoError(err)
	req.Len(history.Messages, 1)
	req.True(history.Messages[0].IsRead)
}
