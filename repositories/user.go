package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"lets-chat/domain"
	"lets-chat/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// User keys:
//
//	user:email:{email}   -> record
//	user:id:{id}         -> email
//	user:name:{username} -> id (lower-cased username, uniqueness only)
const (
	userEmailPrefix = "user:email:"
	userIDPrefix    = "user:id:"
	userNamePrefix  = "user:name:"
)

type UserRepository struct {
	db *badger.DB
}

func NewUserRepository(db *badger.DB) *UserRepository {
	return &UserRepository{db: db}
}

// CreateUser persists a new account. Email and username are both unique.
func (u *UserRepository) CreateUser(_ context.Context, username, email, passwordHash string) (domain.User, error) {
	user := domain.User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}

	err := u.db.Update(func(txn *badger.Txn) error {
		for _, key := range [][]byte{emailKey(email), nameKey(username)} {
			_, err := txn.Get(key)
			if err == nil {
				return errors.ErrUserAlreadyExists
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		if err := txn.Set(emailKey(email), encodeUser(user)); err != nil {
			return err
		}
		if err := txn.Set(idKey(user.ID), []byte(email)); err != nil {
			return err
		}
		return txn.Set(nameKey(username), []byte(user.ID))
	})
	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, errors.ErrUserAlreadyExists), errors.Is(err, badger.ErrConflict):
		return domain.User{}, errors.ErrUserAlreadyExists
	default:
		return domain.User{}, storeFailure(err)
	}
}

func (u *UserRepository) GetUserByEmail(_ context.Context, email string) (domain.User, error) {
	var user domain.User
	err := u.db.View(func(txn *badger.Txn) error {
		var err error
		user, err = getByEmail(txn, email)
		return err
	})
	if err != nil {
		return domain.User{}, userLookupFailure(err)
	}
	return user, nil
}

func (u *UserRepository) GetUserByID(_ context.Context, id string) (domain.User, error) {
	var user domain.User
	err := u.db.View(func(txn *badger.Txn) error {
		var err error
		user, err = getByID(txn, id)
		return err
	})
	if err != nil {
		return domain.User{}, userLookupFailure(err)
	}
	return user, nil
}

// ListUsers returns every account, ordered by email.
func (u *UserRepository) ListUsers(_ context.Context) ([]domain.User, error) {
	users := make([]domain.User, 0)
	err := u.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Prefix = []byte(userEmailPrefix)
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(value []byte) error {
				user, err := decodeUser(value)
				if err != nil {
					return err
				}
				users = append(users, user)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, storeFailure(err)
	}
	return users, nil
}

func (u *UserRepository) UpdateLastSeen(_ context.Context, id string, at time.Time) error {
	at = at.UTC()
	err := u.db.Update(func(txn *badger.Txn) error {
		user, err := getByID(txn, id)
		if err != nil {
			return err
		}
		user.LastSeen = &at
		return txn.Set(emailKey(user.Email), encodeUser(user))
	})
	if err != nil {
		return userLookupFailure(err)
	}
	return nil
}

func getByEmail(txn *badger.Txn, email string) (domain.User, error) {
	item, err := txn.Get(emailKey(email))
	if err != nil {
		return domain.User{}, err
	}
	var user domain.User
	err = item.Value(func(value []byte) error {
		user, err = decodeUser(value)
		return err
	})
	return user, err
}

func getByID(txn *badger.Txn, id string) (domain.User, error) {
	item, err := txn.Get(idKey(id))
	if err != nil {
		return domain.User{}, err
	}
	email, err := item.ValueCopy(nil)
	if err != nil {
		return domain.User{}, err
	}
	return getByEmail(txn, string(email))
}

func userLookupFailure(err error) error {
	if errors.Is(err, badger.ErrKeyNotFound) {
		return errors.ErrUserNotFound
	}
	return storeFailure(err)
}

func emailKey(email string) []byte {
	return []byte(userEmailPrefix + email)
}

func idKey(id string) []byte {
	return []byte(userIDPrefix + id)
}

func nameKey(username string) []byte {
	return fmt.Appendf(nil, "%s%s", userNamePrefix, strings.ToLower(username))
}
