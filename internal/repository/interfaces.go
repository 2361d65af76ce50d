package repository

import (
	"context"

	"github.com/lumenchat/lumen-auth/internal/domain"
)

// UserRepository exposes the user lookups account resolution needs. Lookups
// return (nil, nil) when no row matches.
type UserRepository interface {
	GetByOAuthSub(ctx context.Context, oauthSub string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Count(ctx context.Context) (int64, error)
	Create(ctx context.Context, user domain.User) (*domain.User, error)
	LinkOAuthSub(ctx context.Context, userID, oauthSub string, updatedAt int64) error
}

// GroupRepository exposes the group operations OAuth group sync needs.
// CreateIfAbsent is conflict-free: a concurrent insert of the same name
// silently no-ops, and the caller re-resolves the winning row by name.
type GroupRepository interface {
	GetIDByName(ctx context.Context, name string) (string, error)
	CreateIfAbsent(ctx context.Context, group domain.Group) error
	IsMember(ctx context.Context, groupID, userID string) (bool, error)
	AddMember(ctx context.Context, groupID, userID string, updatedAt int64) error
}
