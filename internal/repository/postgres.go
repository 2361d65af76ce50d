package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumenchat/lumen-auth/internal/domain"
)

// Compile-time interface assertions.
var (
	_ UserRepository  = (*PostgresUserRepo)(nil)
	_ GroupRepository = (*PostgresGroupRepo)(nil)
)

// PostgresUserRepo implements UserRepository on a pgx pool.
type PostgresUserRepo struct {
	db *pgxpool.Pool
}

func NewPostgresUserRepo(db *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const selectUserSQL = `SELECT id, name, email, role, profile_image_url, COALESCE(oauth_sub, ''), last_active_at, created_at, updated_at
FROM "user"`

func (r *PostgresUserRepo) GetByOAuthSub(ctx context.Context, oauthSub string) (*domain.User, error) {
	row := r.db.QueryRow(ctx, selectUserSQL+` WHERE oauth_sub = $1`, oauthSub)
	return scanUser(row, "get user by oauth_sub")
}

func (r *PostgresUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := r.db.QueryRow(ctx, selectUserSQL+` WHERE email = $1`, email)
	return scanUser(row, "get user by email")
}

func (r *PostgresUserRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM "user"`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

const insertUserSQL = `INSERT INTO "user" (id, name, email, role, profile_image_url, oauth_sub, last_active_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id, name, email, role, profile_image_url, COALESCE(oauth_sub, ''), last_active_at, created_at, updated_at`

func (r *PostgresUserRepo) Create(ctx context.Context, user domain.User) (*domain.User, error) {
	row := r.db.QueryRow(ctx, insertUserSQL,
		user.ID,
		user.Name,
		user.Email,
		user.Role,
		user.ProfileImageURL,
		user.OAuthSub,
		user.LastActiveAt,
		user.CreatedAt,
		user.UpdatedAt,
	)

	var inserted domain.User
	if err := row.Scan(
		&inserted.ID,
		&inserted.Name,
		&inserted.Email,
		&inserted.Role,
		&inserted.ProfileImageURL,
		&inserted.OAuthSub,
		&inserted.LastActiveAt,
		&inserted.CreatedAt,
		&inserted.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &inserted, nil
}

func (r *PostgresUserRepo) LinkOAuthSub(ctx context.Context, userID, oauthSub string, updatedAt int64) error {
	if _, err := r.db.Exec(ctx,
		`UPDATE "user" SET oauth_sub = $1, updated_at = $2 WHERE id = $3`,
		oauthSub, updatedAt, userID,
	); err != nil {
		return fmt.Errorf("link oauth_sub: %w", err)
	}
	return nil
}

func scanUser(row pgx.Row, op string) (*domain.User, error) {
	var user domain.User
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.Role,
		&user.ProfileImageURL,
		&user.OAuthSub,
		&user.LastActiveAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &user, nil
}

// PostgresGroupRepo implements GroupRepository on a pgx pool. Membership is
// kept in the group row's user_ids jsonb array, matching the platform schema.
type PostgresGroupRepo struct {
	db *pgxpool.Pool
}

func NewPostgresGroupRepo(db *pgxpool.Pool) *PostgresGroupRepo {
	return &PostgresGroupRepo{db: db}
}

func (r *PostgresGroupRepo) GetIDByName(ctx context.Context, name string) (string, error) {
	var id string
	err := r.db.QueryRow(ctx, `SELECT id FROM "group" WHERE name = $1`, name).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get group by name: %w", err)
	}
	return id, nil
}

const insertGroupSQL = `INSERT INTO "group" (id, user_id, name, description, user_ids, created_at, updated_at)
VALUES ($1, $2, $3, $4, '[]'::jsonb, $5, $6)
ON CONFLICT (name) DO NOTHING`

func (r *PostgresGroupRepo) CreateIfAbsent(ctx context.Context, group domain.Group) error {
	if _, err := r.db.Exec(ctx, insertGroupSQL,
		group.ID,
		group.UserID,
		group.Name,
		group.Description,
		group.CreatedAt,
		group.UpdatedAt,
	); err != nil {
		return fmt.Errorf("create group: %w", err)
	}
	return nil
}

func (r *PostgresGroupRepo) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	member, err := json.Marshal([]string{userID})
	if err != nil {
		return false, fmt.Errorf("encode member: %w", err)
	}
	var exists bool
	err = r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM "group" WHERE id = $1 AND user_ids @> $2::jsonb)`,
		groupID, string(member),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return exists, nil
}

func (r *PostgresGroupRepo) AddMember(ctx context.Context, groupID, userID string, updatedAt int64) error {
	member, err := json.Marshal([]string{userID})
	if err != nil {
		return fmt.Errorf("encode member: %w", err)
	}
	if _, err := r.db.Exec(ctx,
		`UPDATE "group" SET user_ids = COALESCE(user_ids, '[]'::jsonb) || $2::jsonb, updated_at = $3 WHERE id = $1`,
		groupID, string(member), updatedAt,
	); err != nil {
		return fmt.Errorf("add group member: %w", err)
	}
	return nil
}
