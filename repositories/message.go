package repositories

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"lets-chat/domain"
	"lets-chat/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// MessagePrefix starts every message key.
const MessagePrefix = "msg:"

// MessageRepository is the badger-backed message store.
// Keys are "msg:{conversationId}:{createdAt unix nanos, 19 digits}:{id}" so a
// prefix scan over one conversation is already in chronological order.
type MessageRepository struct {
	db  *badger.DB
	log *slog.Logger
	// serializes read-state flips so two concurrent marks never both count a message
	markMu sync.Mutex
}

func NewMessageRepository(db *badger.DB, log *slog.Logger) *MessageRepository {
	return &MessageRepository{db: db, log: log}
}

// Append persists a message, assigning ID and CreatedAt when they are zero.
func (r *MessageRepository) Append(_ context.Context, message domain.Message) (domain.Message, error) {
	if message.ID == uuid.Nil {
		message.ID = uuid.New()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	err := r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(message), encodeMessage(message))
	})
	if err != nil {
		return domain.Message{}, storeFailure(err)
	}
	return message, nil
}

// Query returns at most limit messages strictly older than before (or the most
// recent ones when before is nil), in ascending CreatedAt order.
func (r *MessageRepository) Query(_ context.Context, conversationID string, limit int, before *time.Time) ([]domain.Message, error) {
	messages := make([]domain.Message, 0)
	if limit <= 0 {
		return messages, nil
	}
	prefix := conversationPrefix(conversationID)

	err := r.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		// Reverse seek lands on the greatest key <= seekKey. Keys at exactly
		// `before` carry a ":{id}" suffix and sort after it, so they are excluded.
		seekKey := append([]byte{}, prefix...)
		if before != nil {
			seekKey = fmt.Appendf(seekKey, "%019d", before.UnixNano())
		} else {
			seekKey = append(seekKey, 0xff)
		}

		for it.Seek(seekKey); it.ValidForPrefix(prefix) && len(messages) < limit; it.Next() {
			message, err := decodeItem(it.Item())
			if err != nil {
				return err
			}
			if message.ConversationID != conversationID {
				continue
			}
			messages = append(messages, message)
		}
		return nil
	})
	if err != nil {
		return nil, storeFailure(err)
	}
	return lo.Reverse(messages), nil
}

// MarkRead flips every unread message addressed to receiverID in the
// conversation and returns how many were flipped.
func (r *MessageRepository) MarkRead(_ context.Context, conversationID, receiverID string, at time.Time) (int, error) {
	r.markMu.Lock()
	defer r.markMu.Unlock()

	at = at.UTC()
	type update struct {
		key   []byte
		value []byte
	}
	var updates []update
	prefix := conversationPrefix(conversationID)

	err := r.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			message, err := decodeItem(item)
			if err != nil {
				return err
			}
			if message.ConversationID != conversationID || message.ReceiverID != receiverID || message.IsRead {
				continue
			}
			message.IsRead = true
			message.ReadAt = lo.ToPtr(at)
			updates = append(updates, update{key: item.KeyCopy(nil), value: encodeMessage(message)})
		}
		return nil
	})
	if err != nil {
		return 0, storeFailure(err)
	}
	if len(updates) == 0 {
		return 0, nil
	}

	batch := r.db.NewWriteBatch()
	defer batch.Cancel()
	for _, u := range updates {
		if err := batch.Set(u.key, u.value); err != nil {
			return 0, storeFailure(err)
		}
	}
	if err := batch.Flush(); err != nil {
		return 0, storeFailure(err)
	}
	r.log.Debug("Marked messages as read", "conversation_id", conversationID, "receiver_id", receiverID, "count", len(updates))
	return len(updates), nil
}

// Resolve reloads each message from the store by its key, so callers holding a
// copy from elsewhere (the search index) get the current read state. Messages
// that are no longer stored are left out; order is kept.
func (r *MessageRepository) Resolve(_ context.Context, messages []domain.Message) ([]domain.Message, error) {
	resolved := make([]domain.Message, 0, len(messages))
	err := r.db.View(func(txn *badger.Txn) error {
		for _, message := range messages {
			item, err := txn.Get(messageKey(message))
			if errors.Is(err, badger.ErrKeyNotFound) {
				r.log.Debug("Indexed message is not stored", "message_id", message.ID)
				continue
			}
			if err != nil {
				return err
			}
			stored, err := decodeItem(item)
			if err != nil {
				return err
			}
			resolved = append(resolved, stored)
		}
		return nil
	})
	if err != nil {
		return nil, storeFailure(err)
	}
	return resolved, nil
}

func conversationPrefix(conversationID string) []byte {
	return []byte(MessagePrefix + conversationID + ":")
}

func messageKey(message domain.Message) []byte {
	return fmt.Appendf(nil, "%s%s:%019d:%s", MessagePrefix, message.ConversationID, message.CreatedAt.UnixNano(), message.ID)
}

func decodeItem(item *badger.Item) (domain.Message, error) {
	var message domain.Message
	err := item.Value(func(value []byte) error {
		var err error
		message, err = decodeMessage(value)
		return err
	})
	return message, err
}

func storeFailure(err error) error {
	if errors.Is(err, errors.ErrStoreFailure) {
		return err
	}
	return fmt.Errorf("%w: %v", errors.ErrStoreFailure, err)
}
