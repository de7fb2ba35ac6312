package projection

import (
	"testing"
	"time"

	"lets-chat/domain"
	"lets-chat/domain/event"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func message(from, to, content string, at time.Time) domain.Message {
	return domain.Message{
		ID:             uuid.New(),
		SenderID:       from,
		ReceiverID:     to,
		Content:        content,
		ConversationID: domain.ConversationID(from, to),
		CreatedAt:      at,
	}
}

func TestTimeline_Consume_LiveMessage(t *testing.T) {
	req := require.New(t)
	timeline := NewTimeline("bob")
	now := time.Now()

	second := message("clara", "bob", "Hi Bob", now.Add(time.Second))
	first := message("alice", "bob", "Hello Bob", now)

	req.True(timeline.Consume(event.LiveMessage{Message: second}))
	req.True(timeline.Consume(event.LiveMessage{Message: first}))
	req.False(timeline.Consume(event.LiveMessage{Message: first}), "duplicate is ignored")
	req.False(timeline.Consume(event.UserOnline{UserID: "alice"}))

	req.Len(timeline.Conversation(first.ConversationID), 1)
	req.Equal(1, timeline.Unread(first.ConversationID))
}

func TestTimeline_Merge_Orders_History(t *testing.T) {
	req := require.New(t)
	timeline := NewTimeline("alice")
	now := time.Now()

	a := message("alice", "bob", "one", now)
	b := message("bob", "alice", "two", now.Add(time.Second))
	c := message("alice", "bob", "three", now.Add(2*time.Second))

	req.Equal(1, timeline.Merge(c))
	req.Equal(2, timeline.Merge(b, a, c))

	conversation := timeline.Conversation(a.ConversationID)
	req.Equal([]string{"one", "two", "three"}, []string{conversation[0].Content, conversation[1].Content, conversation[2].Content})
}

func TestTimeline_Consume_MessageRead(t *testing.T) {
	req := require.New(t)
	timeline := NewTimeline("alice")
	now := time.Now()

	sent := message("alice", "bob", "ping", now)
	received := message("bob", "alice", "pong", now.Add(time.Second))
	timeline.Merge(sent, received)

	req.True(timeline.Consume(event.MessageRead{ConversationID: sent.ConversationID, ReadBy: "bob"}))
	req.False(timeline.Consume(event.MessageRead{ConversationID: sent.ConversationID, ReadBy: "bob"}))

	conversation := timeline.Conversation(sent.ConversationID)
	req.True(conversation[0].IsRead)
	req.NotNil(conversation[0].ReadAt)
	req.False(conversation[1].IsRead, "only the owner's messages are flipped")
}
