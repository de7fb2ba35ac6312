//go:generate go run go.uber.org/mock/mockgen -source=services.go -destination=../mocks/mock_services.go -package=mocks
package services

import (
	"context"
	"time"

	"lets-chat/auth"
	"lets-chat/domain"
)

type IAuthService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (domain.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (domain.User, string, error)
}

type IChatService interface {
	Send(ctx context.Context, sender domain.Identity, receiverID, content string) (domain.Message, error)
	History(ctx context.Context, viewer domain.Identity, peerID string, limit int, before *time.Time) (History, error)
	MarkConversationRead(ctx context.Context, viewer domain.Identity, conversationID string) (int, error)
	Search(ctx context.Context, viewer domain.Identity, terms, peerID string, limit int) ([]domain.Message, error)
}

type IUserService interface {
	Me(ctx context.Context, userID string) (domain.DirectoryEntry, error)
	Touch(ctx context.Context, userID string) (domain.DirectoryEntry, error)
	Directory(ctx context.Context, viewerID string) ([]domain.DirectoryEntry, error)
	OnlineUserIDs() []string
}
