package domain

import (
	"lets-chat/errors"
	"sort"
	"strings"
)

// ConversationSeparator never appears inside a valid user id, which keeps
// ConversationID collision free.
const ConversationSeparator = "_"

func ValidateUserID(id string) error {
	if strings.TrimSpace(id) == "" || strings.Contains(id, ConversationSeparator) {
		return errors.ErrInvalidUserID
	}
	return nil
}

// ConversationID derives the order-independent identifier of the conversation
// between a and b. Callers validate both ids first.
func ConversationID(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, ConversationSeparator)
}

// ConversationPeer returns the participant of conversationID that is not userID.
func ConversationPeer(conversationID, userID string) (string, error) {
	parts := strings.Split(conversationID, ConversationSeparator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", errors.ErrMissingConversation
	}
	switch userID {
	case parts[0]:
		return parts[1], nil
	case parts[1]:
		return parts[0], nil
	default:
		return "", errors.ErrNotParticipant
	}
}
