// Package domain contains core concepts of the chat system.
// This file defines Message records and the content rules both delivery paths share.
// Messages are immutable once stored, except for their read state.
package domain

import (
	"lets-chat/errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxContentLength is counted in characters, not bytes.
const MaxContentLength = 1000

// Message is a direct message between two users.
// CreatedAt is the only ordering key.
type Message struct {
	ID               uuid.UUID  `json:"id"`
	SenderID         string     `json:"senderId"`
	ReceiverID       string     `json:"receiverId"`
	SenderUsername   string     `json:"senderUsername"`
	ReceiverUsername string     `json:"receiverUsername"`
	Content          string     `json:"content"`
	ConversationID   string     `json:"conversationId"`
	IsRead           bool       `json:"isRead"`
	ReadAt           *time.Time `json:"readAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
}

// NormalizeContent trims the content and enforces the length bound.
func NormalizeContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", errors.ErrEmptyContent
	}
	if utf8.RuneCountInString(trimmed) > MaxContentLength {
		return "", errors.ErrContentTooLong
	}
	return trimmed, nil
}
