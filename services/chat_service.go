package services

import (
	"context"
	"log/slog"
	"time"

	"lets-chat/contract"
	"lets-chat/domain"
	"lets-chat/errors"
	"lets-chat/observability"
)

type History struct {
	ConversationID string           `json:"conversationId"`
	Messages       []domain.Message `json:"messages"`
}

type HistoryLimits struct {
	Default int
	Max     int
}

// ChatService is the durable path: it stores messages and reconciles read
// state, pushing receipts live through the notifier.
type ChatService struct {
	log      *slog.Logger
	messages contract.IMessageRepository
	users    contract.IUserRepository
	index    contract.IMessageIndex
	notifier contract.ReadNotifier
	censor   contract.Censor
	metrics  *observability.Metrics
	limits   HistoryLimits
	now      func() time.Time
}

func NewChatService(log *slog.Logger,
	messages contract.IMessageRepository,
	users contract.IUserRepository,
	index contract.IMessageIndex,
	notifier contract.ReadNotifier,
	metrics *observability.Metrics,
	limits HistoryLimits) *ChatService {
	return &ChatService{
		log:      log,
		messages: messages,
		users:    users,
		index:    index,
		notifier: notifier,
		metrics:  metrics,
		limits:   limits,
		now:      time.Now,
	}
}

func (s *ChatService) WithCensor(censor contract.Censor) *ChatService {
	s.censor = censor
	return s
}

// Send stores a message from sender to receiverID. The receiver must exist.
// Indexing failures are logged, never returned: the message is stored.
func (s *ChatService) Send(ctx context.Context, sender domain.Identity, receiverID, content string) (domain.Message, error) {
	if receiverID == "" {
		return domain.Message{}, errors.ErrMissingReceiver
	}
	if err := domain.ValidateUserID(receiverID); err != nil {
		return domain.Message{}, err
	}
	content, err := domain.NormalizeContent(content)
	if err != nil {
		return domain.Message{}, err
	}

	receiver, err := s.users.GetUserByID(ctx, receiverID)
	if err != nil {
		if errors.Is(err, errors.ErrUserNotFound) {
			return domain.Message{}, errors.ErrReceiverNotFound
		}
		return domain.Message{}, err
	}
	if s.censor != nil {
		content, _ = s.censor.Censor(content)
	}

	stored, err := s.messages.Append(ctx, domain.Message{
		SenderID:         sender.UserID,
		ReceiverID:       receiver.ID,
		SenderUsername:   sender.Username,
		ReceiverUsername: receiver.Username,
		Content:          content,
		ConversationID:   domain.ConversationID(sender.UserID, receiver.ID),
		CreatedAt:        s.now().UTC(),
	})
	if err != nil {
		return domain.Message{}, err
	}
	s.metrics.MessagesStored.Inc()

	if err := s.index.Index(ctx, stored); err != nil {
		s.log.Warn("Message stored but not indexed", "message_id", stored.ID, "error", err)
	}
	return stored, nil
}

// History opens the conversation with peerID: unread messages addressed to the
// viewer are marked read first, so the returned page already reflects it.
func (s *ChatService) History(ctx context.Context, viewer domain.Identity, peerID string, limit int, before *time.Time) (History, error) {
	if peerID == "" {
		return History{}, errors.ErrMissingReceiver
	}
	if err := domain.ValidateUserID(peerID); err != nil {
		return History{}, err
	}
	conversationID := domain.ConversationID(viewer.UserID, peerID)

	if err := s.markAndNotify(ctx, conversationID, viewer.UserID, peerID); err != nil {
		return History{}, err
	}

	messages, err := s.messages.Query(ctx, conversationID, s.clamp(limit), before)
	if err != nil {
		return History{}, err
	}
	return History{ConversationID: conversationID, Messages: messages}, nil
}

// MarkConversationRead marks every message addressed to the viewer as read.
// Calling it again is harmless and returns 0.
func (s *ChatService) MarkConversationRead(ctx context.Context, viewer domain.Identity, conversationID string) (int, error) {
	if conversationID == "" {
		return 0, errors.ErrMissingConversation
	}
	peerID, err := domain.ConversationPeer(conversationID, viewer.UserID)
	if err != nil {
		return 0, err
	}
	count, err := s.messages.MarkRead(ctx, conversationID, viewer.UserID, s.now())
	if err != nil {
		return 0, err
	}
	s.reconciled(ctx, conversationID, viewer.UserID, peerID, count)
	return count, nil
}

func (s *ChatService) Search(ctx context.Context, viewer domain.Identity, terms, peerID string, limit int) ([]domain.Message, error) {
	if peerID != "" {
		if err := domain.ValidateUserID(peerID); err != nil {
			return nil, err
		}
	}
	hits, err := s.index.Search(ctx, viewer.UserID, terms, peerID, s.clamp(limit))
	if err != nil || len(hits) == 0 {
		return hits, err
	}
	// the index has no read state, the store does
	return s.messages.Resolve(ctx, hits)
}

func (s *ChatService) markAndNotify(ctx context.Context, conversationID, viewerID, peerID string) error {
	count, err := s.messages.MarkRead(ctx, conversationID, viewerID, s.now())
	if err != nil {
		return err
	}
	s.reconciled(ctx, conversationID, viewerID, peerID, count)
	return nil
}

func (s *ChatService) reconciled(ctx context.Context, conversationID, viewerID, peerID string, count int) {
	if count == 0 {
		return
	}
	s.metrics.ReadsReconciled.Add(float64(count))
	s.log.Debug("Conversation read", "conversation_id", conversationID, "reader_id", viewerID, "count", count)
	s.notifier.NotifyRead(ctx, conversationID, viewerID, peerID)
}

func (s *ChatService) clamp(limit int) int {
	if limit <= 0 {
		limit = s.limits.Default
	}
	if s.limits.Max > 0 && limit > s.limits.Max {
		limit = s.limits.Max
	}
	return limit
}
