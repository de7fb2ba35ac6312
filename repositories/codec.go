package repositories

import (
	"fmt"
	"time"

	"lets-chat/domain"
	"lets-chat/errors"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

// Records are stored in protobuf wire format. Field numbers are part of the
// on-disk layout and must never be reused.
//
//	message Message {
//	  string id = 1; string conversation_id = 2; string sender_id = 3;
//	  string receiver_id = 4; string sender_username = 5;
//	  string receiver_username = 6; string content = 7; bool is_read = 8;
//	  sint64 read_at = 9; sint64 created_at = 10;
//	}
//
//	message User {
//	  string id = 1; string username = 2; string email = 3;
//	  string password_hash = 4; sint64 created_at = 5; sint64 last_seen = 6;
//	}
const (
	msgID protowire.Number = iota + 1
	msgConversationID
	msgSenderID
	msgReceiverID
	msgSenderUsername
	msgReceiverUsername
	msgContent
	msgIsRead
	msgReadAt
	msgCreatedAt
)

const (
	userID protowire.Number = iota + 1
	userUsername
	userEmail
	userPasswordHash
	userCreatedAt
	userLastSeen
)

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendTime(b []byte, num protowire.Number, t time.Time) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(t.UnixNano()))
}

func encodeMessage(m domain.Message) []byte {
	var b []byte
	b = appendString(b, msgID, m.ID.String())
	b = appendString(b, msgConversationID, m.ConversationID)
	b = appendString(b, msgSenderID, m.SenderID)
	b = appendString(b, msgReceiverID, m.ReceiverID)
	b = appendString(b, msgSenderUsername, m.SenderUsername)
	b = appendString(b, msgReceiverUsername, m.ReceiverUsername)
	b = appendString(b, msgContent, m.Content)
	if m.IsRead {
		b = protowire.AppendTag(b, msgIsRead, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	if m.ReadAt != nil {
		b = appendTime(b, msgReadAt, *m.ReadAt)
	}
	return appendTime(b, msgCreatedAt, m.CreatedAt)
}

func decodeMessage(b []byte) (domain.Message, error) {
	var m domain.Message
	err := walk(b, func(num protowire.Number, s string, v uint64) error {
		switch num {
		case msgID:
			id, err := uuid.Parse(s)
			if err != nil {
				return err
			}
			m.ID = id
		case msgConversationID:
			m.ConversationID = s
		case msgSenderID:
			m.SenderID = s
		case msgReceiverID:
			m.ReceiverID = s
		case msgSenderUsername:
			m.SenderUsername = s
		case msgReceiverUsername:
			m.ReceiverUsername = s
		case msgContent:
			m.Content = s
		case msgIsRead:
			m.IsRead = protowire.DecodeBool(v)
		case msgReadAt:
			at := decodeTime(v)
			m.ReadAt = &at
		case msgCreatedAt:
			m.CreatedAt = decodeTime(v)
		}
		return nil
	})
	return m, err
}

func encodeUser(u domain.User) []byte {
	var b []byte
	b = appendString(b, userID, u.ID)
	b = appendString(b, userUsername, u.Username)
	b = appendString(b, userEmail, u.Email)
	b = appendString(b, userPasswordHash, u.PasswordHash)
	b = appendTime(b, userCreatedAt, u.CreatedAt)
	if u.LastSeen != nil {
		b = appendTime(b, userLastSeen, *u.LastSeen)
	}
	return b
}

func decodeUser(b []byte) (domain.User, error) {
	var u domain.User
	err := walk(b, func(num protowire.Number, s string, v uint64) error {
		switch num {
		case userID:
			u.ID = s
		case userUsername:
			u.Username = s
		case userEmail:
			u.Email = s
		case userPasswordHash:
			u.PasswordHash = s
		case userCreatedAt:
			u.CreatedAt = decodeTime(v)
		case userLastSeen:
			at := decodeTime(v)
			u.LastSeen = &at
		}
		return nil
	})
	return u, err
}

func decodeTime(v uint64) time.Time {
	return time.Unix(0, protowire.DecodeZigZag(v)).UTC()
}

// walk visits every known field. Unknown fields are skipped so older binaries
// can read records written by newer ones.
func walk(b []byte, visit func(num protowire.Number, s string, v uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return corrupted(protowire.ParseError(n))
		}
		b = b[n:]

		switch typ {
		case protowire.BytesType:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return corrupted(protowire.ParseError(n))
			}
			b = b[n:]
			if err := visit(num, s, 0); err != nil {
				return corrupted(err)
			}
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return corrupted(protowire.ParseError(n))
			}
			b = b[n:]
			if err := visit(num, "", v); err != nil {
				return corrupted(err)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return corrupted(protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

func corrupted(err error) error {
	return fmt.Errorf("%w: %v", errors.ErrCorruptedRecord, err)
}

// DecodeMessage reads a raw message record, as found under MessagePrefix.
func DecodeMessage(value []byte) (domain.Message, error) {
	return decodeMessage(value)
}
