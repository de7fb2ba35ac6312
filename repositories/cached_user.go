package repositories

import (
	"context"
	"time"

	"lets-chat/contract"
	"lets-chat/domain"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedUserRepository keeps recently resolved users by id.
type CachedUserRepository struct {
	contract.IUserRepository
	byID *lru.Cache[string, domain.User]
}

func NewCachedUserRepository(next contract.IUserRepository, size int) (*CachedUserRepository, error) {
	cache, err := lru.New[string, domain.User](size)
	if err != nil {
		return nil, err
	}
	return &CachedUserRepository{IUserRepository: next, byID: cache}, nil
}

func (c *CachedUserRepository) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	if user, ok := c.byID.Get(id); ok {
		return user, nil
	}
	user, err := c.IUserRepository.GetUserByID(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	c.byID.Add(id, user)
	return user, nil
}

func (c *CachedUserRepository) UpdateLastSeen(ctx context.Context, id string, at time.Time) error {
	c.byID.Remove(id)
	return c.IUserRepository.UpdateLastSeen(ctx, id, at)
}
