package event

import (
	"encoding/json"
	"fmt"
	"lets-chat/errors"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Inbound is implemented by every client event kind.
type Inbound interface {
	Kind() Type
}

type Authenticate struct {
	Token string `json:"token" validate:"required"`
}

type GetOnlineUsers struct{}

type Typing struct {
	ReceiverID string `json:"receiverId" validate:"required"`
	IsTyping   bool   `json:"isTyping"`
}

// SendMessage carries the draft of a live message. Content rules are applied
// by the engine, not here.
type SendMessage struct {
	Content          string `json:"content"`
	ReceiverID       string `json:"receiverId" validate:"required"`
	ReceiverUsername string `json:"receiverUsername"`
	ConversationID   string `json:"conversationId"`
}

type MarkAsRead struct {
	ConversationID string `json:"conversationId" validate:"required"`
	SenderID       string `json:"senderId" validate:"required"`
}

func (Authenticate) Kind() Type   { return AuthenticateType }
func (GetOnlineUsers) Kind() Type { return GetOnlineUsersType }
func (Typing) Kind() Type         { return TypingType }
func (SendMessage) Kind() Type    { return SendMessageType }
func (MarkAsRead) Kind() Type     { return MarkAsReadType }

// PeekType reads the envelope type without decoding the payload.
func PeekType(raw []byte) (Type, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err)
	}
	return env.Type, nil
}

// Decode parses one client frame into its typed event.
func Decode(raw []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err)
	}

	var in Inbound
	switch env.Type {
	case AuthenticateType:
		var p Authenticate
		if err := decodeData(env.Data, &p); err != nil {
			return nil, err
		}
		in = p
	case GetOnlineUsersType:
		return GetOnlineUsers{}, nil
	case TypingType:
		var p Typing
		if err := decodeData(env.Data, &p); err != nil {
			return nil, err
		}
		in = p
	case SendMessageType:
		var p SendMessage
		if err := decodeData(env.Data, &p); err != nil {
			return nil, err
		}
		in = p
	case MarkAsReadType:
		var p MarkAsRead
		if err := decodeData(env.Data, &p); err != nil {
			return nil, err
		}
		in = p
	default:
		return nil, fmt.Errorf("%w: %q", errors.ErrUnknownEvent, env.Type)
	}

	if err := validate.Struct(in); err != nil {
		return nil, toValidationError(err)
	}
	return in, nil
}

func decodeData(data json.RawMessage, target any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err)
	}
	return nil
}

func toValidationError(err error) error {
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) || len(fieldErrors) == 0 {
		return fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err)
	}
	switch fieldErrors[0].Field() {
	case "ReceiverID":
		return errors.ErrMissingReceiver
	case "ConversationID":
		return errors.ErrMissingConversation
	case "Token":
		return errors.ErrMissingToken
	default:
		return fmt.Errorf("%w: %s is required", errors.ErrInvalidPayload, fieldErrors[0].Field())
	}
}
