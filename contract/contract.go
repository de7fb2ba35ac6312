//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"lets-chat/domain"
	"lets-chat/domain/event"
	"reflect"
	"time"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker
// for supervision logs.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink is one live connection handle as seen by the core.
type EventSink interface {
	ID() domain.ConnectionID
	Consume(ctx context.Context, e event.Outbound) error
}

// IRegistry is the presence authority: user id -> live connections.
type IRegistry interface {
	Register(userID string, sink EventSink) bool
	Unregister(userID string, connectionID domain.ConnectionID) bool
	OnlineUserIDs() []string
	ConnectionsFor(userID string) []EventSink
}

type IVerifier interface {
	Verify(credential string) (domain.Identity, error)
}

// IMessageRepository is the message store gateway. Implementations are remote
// and fallible from the caller's point of view; they own their retry policy.
type IMessageRepository interface {
	Append(ctx context.Context, message domain.Message) (domain.Message, error)
	Query(ctx context.Context, conversationID string, limit int, before *time.Time) ([]domain.Message, error)
	MarkRead(ctx context.Context, conversationID, receiverID string, at time.Time) (int, error)
	Resolve(ctx context.Context, messages []domain.Message) ([]domain.Message, error)
}

type IUserRepository interface {
	CreateUser(ctx context.Context, username, email, passwordHash string) (domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)
	GetUserByID(ctx context.Context, id string) (domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	UpdateLastSeen(ctx context.Context, id string, at time.Time) error
}

// IMessageIndex is the full-text side index fed by the durable path.
type IMessageIndex interface {
	Index(ctx context.Context, message domain.Message) error
	Search(ctx context.Context, userID, terms, peerID string, limit int) ([]domain.Message, error)
}

// ReadNotifier pushes a read receipt to the original sender's connections.
type ReadNotifier interface {
	NotifyRead(ctx context.Context, conversationID, readerID, senderID string)
}

// PresenceObserver is told about offline<->online transitions, after the
// transition has been broadcast. It is called on the live path and must not block.
type PresenceObserver interface {
	OnPresenceChange(ctx context.Context, userID string, online bool, at time.Time)
}

// Censor masks forbidden words and reports which ones were found.
type Censor interface {
	Censor(original string) (string, []string)
}
