package event

import (
	"encoding/json"
	"lets-chat/domain"
)

// Outbound is implemented by every server event kind.
type Outbound interface {
	Kind() Type
}

// OnlineUsers is a snapshot of online user ids.
type OnlineUsers []string

type UserOnline struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type UserOffline struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type TypingNotice struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

// LiveMessage is the live copy of a message. It is built from the send event
// alone and may differ from the stored record.
type LiveMessage struct {
	domain.Message
}

type MessageRead struct {
	ConversationID string `json:"conversationId"`
	ReadBy         string `json:"readBy"`
}

type Error struct {
	Message string `json:"message"`
}

func (OnlineUsers) Kind() Type  { return OnlineUsersType }
func (UserOnline) Kind() Type   { return UserOnlineType }
func (UserOffline) Kind() Type  { return UserOfflineType }
func (TypingNotice) Kind() Type { return TypingType }
func (LiveMessage) Kind() Type  { return MessageType }
func (MessageRead) Kind() Type  { return MessageReadType }
func (Error) Kind() Type        { return ErrorType }

type outboundFrame struct {
	Type Type     `json:"type"`
	Data Outbound `json:"data"`
}

// Encode wraps an outbound event into its wire envelope.
func Encode(out Outbound) ([]byte, error) {
	if users, ok := out.(OnlineUsers); ok && users == nil {
		out = OnlineUsers{}
	}
	return json.Marshal(outboundFrame{Type: out.Kind(), Data: out})
}
