package services

import (
	"context"
	"sort"
	"time"

	"lets-chat/contract"
	"lets-chat/domain"

	"github.com/samber/lo"
)

// PresenceView is the read side of the presence registry.
type PresenceView interface {
	IsOnline(userID string) bool
	OnlineUserIDs() []string
}

type UserService struct {
	users    contract.IUserRepository
	presence PresenceView
}

func NewUserService(users contract.IUserRepository, presence PresenceView) *UserService {
	return &UserService{users: users, presence: presence}
}

func (s *UserService) Me(ctx context.Context, userID string) (domain.DirectoryEntry, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return domain.DirectoryEntry{}, err
	}
	return domain.DirectoryEntry{User: user, IsOnline: s.presence.IsOnline(userID)}, nil
}

// Touch records activity for the caller. Online state is never taken from the
// client: it stays whatever the presence registry says.
func (s *UserService) Touch(ctx context.Context, userID string) (domain.DirectoryEntry, error) {
	if err := s.users.UpdateLastSeen(ctx, userID, time.Now().UTC()); err != nil {
		return domain.DirectoryEntry{}, err
	}
	return s.Me(ctx, userID)
}

// Directory lists every user except the viewer: online users first, then by
// most recent lastSeen, then by username.
func (s *UserService) Directory(ctx context.Context, viewerID string) ([]domain.DirectoryEntry, error) {
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	entries := lo.FilterMap(users, func(u domain.User, _ int) (domain.DirectoryEntry, bool) {
		return domain.DirectoryEntry{User: u, IsOnline: s.presence.IsOnline(u.ID)}, u.ID != viewerID
	})

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.IsOnline != b.IsOnline {
			return a.IsOnline
		}
		switch {
		case a.LastSeen != nil && b.LastSeen != nil && !a.LastSeen.Equal(*b.LastSeen):
			return a.LastSeen.After(*b.LastSeen)
		case a.LastSeen != nil && b.LastSeen == nil:
			return true
		case a.LastSeen == nil && b.LastSeen != nil:
			return false
		}
		return a.Username < b.Username
	})
	return entries, nil
}

func (s *UserService) OnlineUserIDs() []string {
	return s.presence.OnlineUserIDs()
}
