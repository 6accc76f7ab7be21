package security

import (
	"context"

	"github.com/gigmarket/chat-service/internal/model"
)

// UserDirectory resolves a raw user id to an identity (the external auth store).
type UserDirectory interface {
	LookupUser(ctx context.Context, userID string) (*Identity, error)
}

// UserLookup is the subset of the chat store used by the directory.
type UserLookup interface {
	GetUser(ctx context.Context, userID string) (*model.User, error)
	UpsertUser(ctx context.Context, user model.User) error
}

// StoreDirectory resolves users from the users table mirrored into the chat store.
type StoreDirectory struct {
	users UserLookup
}

// NewStoreDirectory creates a directory over the given user lookup.
func NewStoreDirectory(users UserLookup) *StoreDirectory {
	return &StoreDirectory{users: users}
}

func (d *StoreDirectory) LookupUser(ctx context.Context, userID string) (*Identity, error) {
	user, err := d.users.GetUser(ctx, userID)
	if err != nil {
		return nil, &AuthenticationError{Reason: "unknown user " + userID}
	}
	return &Identity{UserID: user.ID, Role: user.Role, DisplayName: user.DisplayName}, nil
}

// Remember refreshes the mirrored profile from a token-derived identity. Identities
// without profile claims are ignored so a bare token never blanks a stored profile.
func (d *StoreDirectory) Remember(ctx context.Context, id *Identity) error {
	if id == nil || (id.DisplayName == "" && id.Role == "") {
		return nil
	}
	return d.users.UpsertUser(ctx, model.User{ID: id.UserID, Role: id.Role, DisplayName: id.DisplayName})
}
