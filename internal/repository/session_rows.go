package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumenchat/lumen-auth/internal/domain/oauth"
	"github.com/lumenchat/lumen-auth/internal/session"
)

// PostgresSessionRows implements session.Rows on a pgx pool. The token column
// is an opaque encrypted string; this layer never sees plaintext token data.
type PostgresSessionRows struct {
	db *pgxpool.Pool
}

var _ session.Rows = (*PostgresSessionRows)(nil)

func NewPostgresSessionRows(db *pgxpool.Pool) *PostgresSessionRows {
	return &PostgresSessionRows{db: db}
}

const sessionColumns = `id, user_id, provider, token, expires_at, created_at, updated_at`

const insertSessionSQL = `INSERT INTO oauth_session (` + sessionColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + sessionColumns

func (r *PostgresSessionRows) Insert(ctx context.Context, s oauth.Session) (*oauth.Session, error) {
	row := r.db.QueryRow(ctx, insertSessionSQL,
		s.ID, s.UserID, s.Provider, s.Token, s.ExpiresAt, s.CreatedAt, s.UpdatedAt)
	inserted, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return inserted, nil
}

func (r *PostgresSessionRows) GetByID(ctx context.Context, id string) (*oauth.Session, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM oauth_session WHERE id = $1`, id)
	return scanOptionalSession(row, "get session")
}

func (r *PostgresSessionRows) GetByIDAndUser(ctx context.Context, id, userID string) (*oauth.Session, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM oauth_session WHERE id = $1 AND user_id = $2`, id, userID)
	return scanOptionalSession(row, "get session")
}

func (r *PostgresSessionRows) GetByProviderAndUser(ctx context.Context, provider, userID string) (*oauth.Session, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM oauth_session WHERE provider = $1 AND user_id = $2`, provider, userID)
	return scanOptionalSession(row, "get session")
}

func (r *PostgresSessionRows) ListByUser(ctx context.Context, userID string) ([]oauth.Session, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+sessionColumns+` FROM oauth_session WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

const updateSessionSQL = `UPDATE oauth_session
SET token = $2, expires_at = $3, updated_at = $4
WHERE id = $1
RETURNING ` + sessionColumns

func (r *PostgresSessionRows) Update(ctx context.Context, id, token string, expiresAt, updatedAt int64) (*oauth.Session, error) {
	row := r.db.QueryRow(ctx, updateSessionSQL, id, token, expiresAt, updatedAt)
	updated, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	return updated, nil
}

func (r *PostgresSessionRows) DeleteByID(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM oauth_session WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresSessionRows) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM oauth_session WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresSessionRows) DeleteByProviderAndUser(ctx context.Context, provider, userID string) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM oauth_session WHERE provider = $1 AND user_id = $2`, provider, userID)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresSessionRows) DeleteExpired(ctx context.Context, cutoff int64) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM oauth_session WHERE expires_at <= $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresSessionRows) ListExpiringBetween(ctx context.Context, from, to int64) ([]oauth.Session, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+sessionColumns+` FROM oauth_session WHERE expires_at > $1 AND expires_at <= $2 ORDER BY expires_at ASC`,
		from, to)
	if err != nil {
		return nil, fmt.Errorf("list expiring sessions: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

func scanSession(row pgx.Row) (*oauth.Session, error) {
	var s oauth.Session
	if err := row.Scan(&s.ID, &s.UserID, &s.Provider, &s.Token, &s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func scanOptionalSession(row pgx.Row, op string) (*oauth.Session, error) {
	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s, nil
}

func collectSessions(rows pgx.Rows) ([]oauth.Session, error) {
	var sessions []oauth.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}
