// Package projection builds local timelines from observed events.
// Handles ordering, deduplication, and read receipts.
// Does not emit events or interact with UI directly.
package projection

import (
	"sort"
	"sync"
	"time"

	"lets-chat/domain"
	"lets-chat/domain/event"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Timeline is the owner's local view of their conversations, fed by live
// events and history pages. Live copies and stored copies of one message
// carry different ids, so both may appear.
type Timeline struct {
	Owner string

	mu            sync.Mutex
	conversations map[string][]domain.Message
	seen          map[uuid.UUID]struct{}
}

func NewTimeline(owner string) *Timeline {
	return &Timeline{
		Owner:         owner,
		conversations: make(map[string][]domain.Message),
		seen:          make(map[uuid.UUID]struct{}),
	}
}

// Consume applies one server event. It reports whether the timeline changed.
func (t *Timeline) Consume(out event.Outbound) bool {
	switch evt := out.(type) {
	case event.LiveMessage:
		return t.Merge(evt.Message) > 0
	case event.MessageRead:
		return t.markRead(evt.ConversationID, evt.ReadBy, time.Now().UTC()) > 0
	}
	return false
}

// Merge adds messages not seen before and returns how many were added.
func (t *Timeline) Merge(messages ...domain.Message) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	added := 0
	touched := make(map[string]struct{})
	for _, m := range messages {
		if _, ok := t.seen[m.ID]; ok {
			continue
		}
		t.seen[m.ID] = struct{}{}
		t.conversations[m.ConversationID] = append(t.conversations[m.ConversationID], m)
		touched[m.ConversationID] = struct{}{}
		added++
	}
	for conversationID := range touched {
		messages := t.conversations[conversationID]
		sort.SliceStable(messages, func(i, j int) bool { return messages[i].CreatedAt.Before(messages[j].CreatedAt) })
	}
	return added
}

// Conversation returns a copy of one conversation in chronological order.
func (t *Timeline) Conversation(conversationID string) []domain.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.Message(nil), t.conversations[conversationID]...)
}

// Unread counts messages addressed to the owner that are still unread.
func (t *Timeline) Unread(conversationID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return lo.CountBy(t.conversations[conversationID], func(m domain.Message) bool {
		return m.ReceiverID == t.Owner && !m.IsRead
	})
}

// markRead flips the owner's messages that readBy has now read.
func (t *Timeline) markRead(conversationID, readBy string, at time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	flipped := 0
	messages := t.conversations[conversationID]
	for i := range messages {
		if messages[i].SenderID == t.Owner && messages[i].ReceiverID == readBy && !messages[i].IsRead {
			messages[i].IsRead = true
			messages[i].ReadAt = lo.ToPtr(at)
			flipped++
		}
	}
	return flipped
}
