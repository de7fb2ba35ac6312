// Package event defines the websocket wire contract: a tagged union of inbound
// client events and the outbound events the server pushes.
package event

import "encoding/json"

type Type string

const (
	AuthenticateType   Type = "authenticate"
	GetOnlineUsersType Type = "getOnlineUsers"
	TypingType         Type = "typing"
	SendMessageType    Type = "sendMessage"
	MarkAsReadType     Type = "markAsRead"

	OnlineUsersType Type = "onlineUsers"
	UserOnlineType  Type = "userOnline"
	UserOfflineType Type = "userOffline"
	MessageType     Type = "message"
	MessageReadType Type = "messageRead"
	ErrorType       Type = "error"
)

// Envelope is the frame exchanged in both directions.
type Envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}
