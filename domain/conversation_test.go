package domain

import (
	"lets-chat/errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestConversationID_Is_Order_Independent(t *testing.T) {
	req := require.New(t)
	pairs := [][2]string{
		{"alice", "bob"},
		{"bob", "alice"},
		{uuid.NewString(), uuid.NewString()},
		{"same", "same"},
		{"Z", "a"},
	}
	for _, p := range pairs {
		req.Equal(ConversationID(p[0], p[1]), ConversationID(p[1], p[0]))
	}
	req.Equal("alice_bob", ConversationID("bob", "alice"))
}

func TestConversationID_No_Collision_For_Distinct_Peers(t *testing.T) {
	req := require.New(t)
	a := uuid.NewString()
	seen := make(map[string]string)

	// Given many distinct peers of the same user
	for i := 0; i < 200; i++ {
		peer := uuid.NewString()
		id := ConversationID(a, peer)

		// Then no two peers share a conversation
		other, exists := seen[id]
		req.False(exists, "collision between %s and %s", peer, other)
		seen[id] = peer
	}
}

func TestValidateUserID(t *testing.T) {
	req := require.New(t)
	req.NoError(ValidateUserID(uuid.NewString()))
	req.ErrorIs(ValidateUserID(""), errors.ErrInvalidUserID)
	req.ErrorIs(ValidateUserID("   "), errors.ErrInvalidUserID)
	req.ErrorIs(ValidateUserID("a_b"), errors.ErrInvalidUserID)
}

func TestConversationPeer(t *testing.T) {
	req := require.New(t)
	conversationID := ConversationID("alice", "bob")

	peer, err := ConversationPeer(conversationID, "alice")
	req.NoError(err)
	req.Equal("bob", peer)

	peer, err = ConversationPeer(conversationID, "bob")
	req.NoError(err)
	req.Equal("alice", peer)

	_, err = ConversationPeer(conversationID, "clara")
	req.ErrorIs(err, errors.ErrNotParticipant)

	_, err = ConversationPeer("garbage", "alice")
	req.ErrorIs(err, errors.ErrMissingConversation)
}
