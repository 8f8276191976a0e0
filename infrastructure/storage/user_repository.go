package storage

import (
	"chat-relay/contract"
	"chat-relay/domain"
	errs "chat-relay/errors"
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/go-playground/validator/v10"
)

var _ contract.IUserDirectory = (*UserRepository)(nil)

// UserRepository is the profile collaborator of the delivery core.
// Profiles are owned by an external user store and only mirrored here.
type UserRepository struct {
	db       *badger.DB
	validate *validator.Validate
}

func NewUserRepository(db *badger.DB) *UserRepository {
	return &UserRepository{db: db, validate: validator.New()}
}

func profileKey(userID domain.UserID) []byte {
	return []byte("user:" + string(userID))
}

// PutProfile creates or replaces a profile.
func (u *UserRepository) PutProfile(ctx context.Context, profile domain.UserProfile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := u.validate.Struct(profile); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidPayload, err)
	}
	err := u.db.Update(func(txn *badger.Txn) error {
		return txn.Set(profileKey(profile.ID), encodeProfile(profile))
	})
	return storageError(err)
}

// FetchUserProfile returns errors.ErrNotFound for unknown users.
func (u *UserRepository) FetchUserProfile(ctx context.Context, userID domain.UserID) (domain.UserProfile, error) {
	if err := ctx.Err(); err != nil {
		return domain.UserProfile{}, err
	}
	var profile domain.UserProfile
	err := u.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(profileKey(userID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: user %s", errs.ErrNotFound, userID)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			profile, err = decodeProfile(val)
			return err
		})
	})
	if err != nil {
		return domain.UserProfile{}, storageError(err)
	}
	return profile, nil
}
