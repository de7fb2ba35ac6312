package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"lets-chat/domain"
	"lets-chat/errors"

	"github.com/blugelabs/bluge"
	"github.com/google/uuid"
)

const (
	fieldContent          = "content"
	fieldConversationID   = "conversationId"
	fieldSenderID         = "senderId"
	fieldReceiverID       = "receiverId"
	fieldSenderUsername   = "senderUsername"
	fieldReceiverUsername = "receiverUsername"
	fieldParticipant      = "participant"
	fieldCreatedAt        = "createdAt"
)

// MessageIndex is a full-text index over stored messages. It does not track
// read state: hits carry the indexed copy and are resolved against the store
// before they reach a client.
type MessageIndex struct {
	writer *bluge.Writer
	log    *slog.Logger
}

func NewMessageIndex(writer *bluge.Writer, log *slog.Logger) *MessageIndex {
	return &MessageIndex{writer: writer, log: log}
}

func (i *MessageIndex) Index(_ context.Context, message domain.Message) error {
	doc := bluge.NewDocument(message.ID.String()).
		AddField(bluge.NewTextField(fieldContent, message.Content).StoreValue()).
		AddField(bluge.NewKeywordField(fieldConversationID, message.ConversationID).StoreValue()).
		AddField(bluge.NewKeywordField(fieldSenderID, message.SenderID).StoreValue()).
		AddField(bluge.NewKeywordField(fieldReceiverID, message.ReceiverID).StoreValue()).
		AddField(bluge.NewKeywordField(fieldSenderUsername, message.SenderUsername).StoreValue()).
		AddField(bluge.NewKeywordField(fieldReceiverUsername, message.ReceiverUsername).StoreValue()).
		AddField(bluge.NewKeywordField(fieldParticipant, message.SenderID)).
		AddField(bluge.NewKeywordField(fieldParticipant, message.ReceiverID)).
		AddField(bluge.NewDateTimeField(fieldCreatedAt, message.CreatedAt).StoreValue())

	if err := i.writer.Update(doc.ID(), doc); err != nil {
		return fmt.Errorf("%w: index message %s: %v", errors.ErrStoreFailure, message.ID, err)
	}
	return nil
}

// Search runs a match query over content, restricted to conversations userID
// takes part in and, when peerID is set, to the conversation with that peer.
func (i *MessageIndex) Search(ctx context.Context, userID, terms, peerID string, limit int) ([]domain.Message, error) {
	results := make([]domain.Message, 0)
	terms = strings.TrimSpace(terms)
	if terms == "" || limit <= 0 {
		return results, nil
	}

	query := bluge.NewBooleanQuery().
		AddMust(bluge.NewMatchQuery(terms).SetField(fieldContent)).
		AddMust(bluge.NewTermQuery(userID).SetField(fieldParticipant))
	if peerID != "" {
		query.AddMust(bluge.NewTermQuery(domain.ConversationID(userID, peerID)).SetField(fieldConversationID))
	}

	reader, err := i.writer.Reader()
	if err != nil {
		return nil, fmt.Errorf("%w: open index reader: %v", errors.ErrStoreFailure, err)
	}
	defer func() {
		if err := reader.Close(); err != nil {
			i.log.Warn("Failed to close index reader", "error", err)
		}
	}()

	iterator, err := reader.Search(ctx, bluge.NewTopNSearch(limit, query))
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", errors.ErrStoreFailure, err)
	}

	match, err := iterator.Next()
	for err == nil && match != nil {
		var message domain.Message
		var visitErr error
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			visitErr = apply(&message, field, value)
			return visitErr == nil
		})
		if err != nil {
			break
		}
		if visitErr != nil {
			i.log.Warn("Skipping unreadable indexed message", "error", visitErr)
		} else {
			results = append(results, message)
		}
		match, err = iterator.Next()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: iterate results: %v", errors.ErrStoreFailure, err)
	}
	return results, nil
}

func apply(message *domain.Message, field string, value []byte) error {
	switch field {
	case "_id":
		id, err := uuid.ParseBytes(value)
		if err != nil {
			return err
		}
		message.ID = id
	case fieldContent:
		message.Content = string(value)
	case fieldConversationID:
		message.ConversationID = string(value)
	case fieldSenderID:
		message.SenderID = string(value)
	case fieldReceiverID:
		message.ReceiverID = string(value)
	case fieldSenderUsername:
		message.SenderUsername = string(value)
	case fieldReceiverUsername:
		message.ReceiverUsername = string(value)
	case fieldCreatedAt:
		at, err := bluge.DecodeDateTime(value)
		if err != nil {
			return err
		}
		message.CreatedAt = at.UTC()
	}
	return nil
}
