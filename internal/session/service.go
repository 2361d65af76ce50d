// Package session manages the lifecycle of encrypted OAuth sessions: one
// live row per (user, provider), token payloads sealed with the fernet
// cipher before they ever reach storage.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lumenchat/lumen-auth/internal/domain/oauth"
	"github.com/lumenchat/lumen-auth/internal/fernet"
)

// RefreshHorizon is how close to expiry a session must be before a refresh
// is attempted.
const RefreshHorizon = 5 * time.Minute

// Rows is the narrow row-store surface the service needs.
type Rows interface {
	Insert(ctx context.Context, s oauth.Session) (*oauth.Session, error)
	GetByID(ctx context.Context, id string) (*oauth.Session, error)
	GetByIDAndUser(ctx context.Context, id, userID string) (*oauth.Session, error)
	GetByProviderAndUser(ctx context.Context, provider, userID string) (*oauth.Session, error)
	ListByUser(ctx context.Context, userID string) ([]oauth.Session, error)
	Update(ctx context.Context, id, token string, expiresAt, updatedAt int64) (*oauth.Session, error)
	DeleteByID(ctx context.Context, id string) (bool, error)
	DeleteByUser(ctx context.Context, userID string) (int64, error)
	DeleteByProviderAndUser(ctx context.Context, provider, userID string) (bool, error)
	DeleteExpired(ctx context.Context, cutoff int64) (int64, error)
	ListExpiringBetween(ctx context.Context, from, to int64) ([]oauth.Session, error)
}

// Service encrypts, persists, and expires OAuth sessions.
type Service struct {
	rows   Rows
	cipher *fernet.Cipher
	logger *zap.Logger

	now func() time.Time
}

// New constructs the service; encryptionKey feeds the fernet cipher.
func New(rows Rows, encryptionKey string, logger *zap.Logger) (*Service, error) {
	cipher, err := fernet.New(encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("session cipher: %w", err)
	}
	if logger == nil {
		logger = zap.L()
	}
	return &Service{rows: rows, cipher: cipher, logger: logger, now: time.Now}, nil
}

// Create encrypts the token payload and inserts a fresh session row. Any
// prior row for the same (user, provider) pair is deleted first, keeping at
// most one live session per pair.
func (s *Service) Create(ctx context.Context, userID, provider string, token oauth.TokenData) (*oauth.SessionWithToken, error) {
	encrypted, err := s.cipher.EncryptJSON(token)
	if err != nil {
		return nil, fmt.Errorf("encrypt session token: %w", err)
	}

	if _, err := s.rows.DeleteByProviderAndUser(ctx, provider, userID); err != nil {
		return nil, fmt.Errorf("delete prior session: %w", err)
	}

	nowUnix := s.now().Unix()
	row, err := s.rows.Insert(ctx, oauth.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Provider:  provider,
		Token:     encrypted,
		ExpiresAt: token.ExpiresAt,
		CreatedAt: nowUnix,
		UpdatedAt: nowUnix,
	})
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	s.logger.Info("created oauth session",
		zap.String("session_id", row.ID),
		zap.String("user_id", userID),
		zap.String("provider", provider))

	return s.withToken(row, token), nil
}

// GetByID loads and decrypts a session.
func (s *Service) GetByID(ctx context.Context, id string) (*oauth.SessionWithToken, error) {
	row, err := s.rows.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s.decrypt(row)
}

// GetByIDAndUser loads a session only when it belongs to the given user.
func (s *Service) GetByIDAndUser(ctx context.Context, id, userID string) (*oauth.SessionWithToken, error) {
	row, err := s.rows.GetByIDAndUser(ctx, id, userID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s.decrypt(row)
}

// GetByProviderAndUser loads the (at most one) session for a user/provider pair.
func (s *Service) GetByProviderAndUser(ctx context.Context, provider, userID string) (*oauth.SessionWithToken, error) {
	row, err := s.rows.GetByProviderAndUser(ctx, provider, userID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s.decrypt(row)
}

// ListByUser returns a user's sessions with decrypted tokens. Rows that fail
// to decrypt (key rotation, corruption) are skipped with a warning instead of
// failing the whole listing.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]oauth.SessionWithToken, error) {
	rows, err := s.rows.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return s.decryptAll(rows), nil
}

// ListResponsesByUser returns the token-free view of a user's sessions.
func (s *Service) ListResponsesByUser(ctx context.Context, userID string) ([]oauth.SessionResponse, error) {
	rows, err := s.rows.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	responses := make([]oauth.SessionResponse, 0, len(rows))
	for _, row := range rows {
		responses = append(responses, oauth.SessionResponse{
			ID:        row.ID,
			UserID:    row.UserID,
			Provider:  row.Provider,
			ExpiresAt: row.ExpiresAt,
		})
	}
	return responses, nil
}

// UpdateByID re-encrypts and stores a new token payload for the session.
func (s *Service) UpdateByID(ctx context.Context, id string, token oauth.TokenData) (*oauth.SessionWithToken, error) {
	encrypted, err := s.cipher.EncryptJSON(token)
	if err != nil {
		return nil, fmt.Errorf("encrypt session token: %w", err)
	}
	row, err := s.rows.Update(ctx, id, encrypted, token.ExpiresAt, s.now().Unix())
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	return s.withToken(row, token), nil
}

// DeleteByID removes a session row.
func (s *Service) DeleteByID(ctx context.Context, id string) (bool, error) {
	deleted, err := s.rows.DeleteByID(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	if deleted {
		s.logger.Info("deleted oauth session", zap.String("session_id", id))
	}
	return deleted, nil
}

// DeleteByUser removes every session a user owns.
func (s *Service) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	count, err := s.rows.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("delete sessions: %w", err)
	}
	return count, nil
}

// DeleteByProviderAndUser removes the session for a user/provider pair.
func (s *Service) DeleteByProviderAndUser(ctx context.Context, provider, userID string) (bool, error) {
	deleted, err := s.rows.DeleteByProviderAndUser(ctx, provider, userID)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	return deleted, nil
}

// IsExpired reports whether the session's expiry has passed.
func (s *Service) IsExpired(session *oauth.SessionWithToken) bool {
	return session.ExpiresAt <= s.now().Unix()
}

// NeedsRefresh reports whether the session expires within the refresh horizon.
func (s *Service) NeedsRefresh(session *oauth.SessionWithToken) bool {
	return session.ExpiresAt <= s.now().Add(RefreshHorizon).Unix()
}

// ValidToken returns the decrypted token for a user/provider pair, deleting
// the row and returning nil when it has already expired.
func (s *Service) ValidToken(ctx context.Context, userID, provider string) (*oauth.TokenData, error) {
	session, err := s.GetByProviderAndUser(ctx, provider, userID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, nil
	}
	if s.IsExpired(session) {
		s.logger.Debug("session expired",
			zap.String("user_id", userID),
			zap.String("provider", provider))
		if _, err := s.DeleteByID(ctx, session.ID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return &session.Token, nil
}

// CleanupExpired deletes every session whose expiry has passed.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	count, err := s.rows.DeleteExpired(ctx, s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("cleanup sessions: %w", err)
	}
	if count > 0 {
		s.logger.Info("cleaned up expired oauth sessions", zap.Int64("count", count))
	}
	return count, nil
}

// ExpiringSoon lists still-valid sessions that expire within the window,
// for proactive refresh.
func (s *Service) ExpiringSoon(ctx context.Context, window time.Duration) ([]oauth.SessionWithToken, error) {
	nowUnix := s.now().Unix()
	rows, err := s.rows.ListExpiringBetween(ctx, nowUnix, nowUnix+int64(window/time.Second))
	if err != nil {
		return nil, fmt.Errorf("list expiring sessions: %w", err)
	}
	return s.decryptAll(rows), nil
}

func (s *Service) decrypt(row *oauth.Session) (*oauth.SessionWithToken, error) {
	if row == nil {
		return nil, nil
	}
	var token oauth.TokenData
	if err := s.cipher.DecryptJSON(row.Token, &token); err != nil {
		return nil, fmt.Errorf("decrypt session token: %w", err)
	}
	return s.withToken(row, token), nil
}

func (s *Service) decryptAll(rows []oauth.Session) []oauth.SessionWithToken {
	sessions := make([]oauth.SessionWithToken, 0, len(rows))
	for i := range rows {
		decrypted, err := s.decrypt(&rows[i])
		if err != nil {
			s.logger.Warn("skipping undecryptable session token",
				zap.String("session_id", rows[i].ID),
				zap.Error(err))
			continue
		}
		sessions = append(sessions, *decrypted)
	}
	return sessions
}

func (s *Service) withToken(row *oauth.Session, token oauth.TokenData) *oauth.SessionWithToken {
	return &oauth.SessionWithToken{
		ID:        row.ID,
		UserID:    row.UserID,
		Provider:  row.Provider,
		Token:     token,
		ExpiresAt: row.ExpiresAt,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}
