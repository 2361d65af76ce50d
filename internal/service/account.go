// Package service maps completed OAuth callbacks onto local accounts:
// find-or-create users, link identities by email, enforce signup and role
// policy, and sync claim-derived group membership.
package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lumenchat/lumen-auth/internal/config"
	"github.com/lumenchat/lumen-auth/internal/domain"
	domainoauth "github.com/lumenchat/lumen-auth/internal/domain/oauth"
	"github.com/lumenchat/lumen-auth/internal/oauth"
	"github.com/lumenchat/lumen-auth/internal/repository"
	"github.com/lumenchat/lumen-auth/internal/webhook"
)

const (
	maxPictureBytes = 5 * 1024 * 1024
	pictureTimeout  = 10 * time.Second
)

// AccountService resolves a provider identity to a local user row. Webhook
// delivery, picture download, and group sync are best effort and never fail
// the login.
type AccountService struct {
	users    repository.UserRepository
	groups   repository.GroupRepository
	manager  *oauth.Manager
	webhooks *webhook.Client
	cfg      config.Config
	client   *http.Client
	logger   *zap.Logger

	now func() time.Time
}

// NewAccountService wires the account resolver.
func NewAccountService(cfg config.Config, users repository.UserRepository, groups repository.GroupRepository, manager *oauth.Manager, webhooks *webhook.Client, client *http.Client, logger *zap.Logger) *AccountService {
	if client == nil {
		client = &http.Client{Timeout: pictureTimeout}
	}
	if logger == nil {
		logger = zap.L()
	}
	return &AccountService{
		users:    users,
		groups:   groups,
		manager:  manager,
		webhooks: webhooks,
		cfg:      cfg,
		client:   client,
		logger:   logger,
		now:      time.Now,
	}
}

// ResolveUser finds or creates the local user for a completed callback.
//
// Resolution order: an existing row linked by oauth_sub wins; otherwise the
// email domain policy applies, then optional merge-by-email links the
// identity to an existing account, then signup policy gates creation.
func (s *AccountService) ResolveUser(ctx context.Context, providerName string, identity *domainoauth.UserInfo) (*domain.User, error) {
	oauthSub := providerName + "@" + identity.Sub

	user, err := s.users.GetByOAuthSub(ctx, oauthSub)
	if err != nil {
		return nil, err
	}
	if user != nil {
		s.logger.Debug("found existing user by oauth_sub", zap.String("user_id", user.ID))
		return user, nil
	}

	email := strings.ToLower(strings.TrimSpace(identity.Email))
	if email == "" {
		return nil, domainoauth.ErrEmailMissing
	}
	if !s.manager.IsEmailDomainAllowed(email) {
		return nil, fmt.Errorf("email %q: %w", email, domainoauth.ErrEmailDomainNotAllowed)
	}

	if s.cfg.MergeAccountsByEmail {
		existing, err := s.users.GetByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if err := s.users.LinkOAuthSub(ctx, existing.ID, oauthSub, s.now().Unix()); err != nil {
				return nil, err
			}
			existing.OAuthSub = oauthSub
			s.logger.Info("linked oauth identity to existing user",
				zap.String("user_id", existing.ID),
				zap.String("provider", providerName))
			return existing, nil
		}
	}

	if !s.cfg.EnableOAuthSignup {
		return nil, domainoauth.ErrSignupDisabled
	}

	count, err := s.users.Count(ctx)
	if err != nil {
		return nil, err
	}
	isFirstUser := count == 0

	role := s.manager.DetermineRole(identity, isFirstUser)
	if role == "pending" {
		return nil, domainoauth.ErrRoleForbidden
	}

	profileImageURL := ""
	if identity.Picture != "" {
		dataURL, err := s.downloadProfilePicture(ctx, identity.Picture)
		if err != nil {
			s.logger.Warn("profile picture download failed", zap.Error(err))
		} else {
			profileImageURL = dataURL
		}
	}

	nowUnix := s.now().Unix()
	created, err := s.users.Create(ctx, domain.User{
		ID:              uuid.NewString(),
		Name:            extractUsername(identity, email),
		Email:           email,
		Role:            role,
		ProfileImageURL: profileImageURL,
		OAuthSub:        oauthSub,
		LastActiveAt:    nowUnix,
		CreatedAt:       nowUnix,
		UpdatedAt:       nowUnix,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("created user from oauth signup",
		zap.String("user_id", created.ID),
		zap.String("provider", providerName),
		zap.String("role", created.Role))

	s.notifySignup(ctx, created)
	return created, nil
}

// SyncGroups reconciles the user's group membership with the groups claim.
// Errors are returned for the caller to log; a failed sync never blocks the
// login that triggered it.
func (s *AccountService) SyncGroups(ctx context.Context, userID string, identity *domainoauth.UserInfo) error {
	if !s.cfg.EnableGroupManagement {
		return nil
	}

	claimGroups := s.manager.ExtractGroups(identity)
	if len(claimGroups) == 0 {
		return nil
	}

	var allowed []string
	for _, name := range claimGroups {
		if !containsString(s.cfg.BlockedGroups, name) {
			allowed = append(allowed, name)
		}
	}
	if len(allowed) == 0 {
		return nil
	}

	for _, name := range allowed {
		groupID, err := s.groups.GetIDByName(ctx, name)
		if err != nil {
			return err
		}
		if groupID == "" {
			if !s.cfg.EnableGroupCreation {
				s.logger.Debug("skipping group creation", zap.String("group", name))
				continue
			}
			nowUnix := s.now().Unix()
			if err := s.groups.CreateIfAbsent(ctx, domain.Group{
				ID:          uuid.NewString(),
				UserID:      userID,
				Name:        name,
				Description: "Auto-created from OAuth: " + name,
				CreatedAt:   nowUnix,
				UpdatedAt:   nowUnix,
			}); err != nil {
				return err
			}
			// A concurrent login may have won the insert; take whichever row
			// holds the name now.
			if groupID, err = s.groups.GetIDByName(ctx, name); err != nil {
				return err
			}
			if groupID == "" {
				continue
			}
		}

		member, err := s.groups.IsMember(ctx, groupID, userID)
		if err != nil {
			return err
		}
		if member {
			continue
		}
		if err := s.groups.AddMember(ctx, groupID, userID, s.now().Unix()); err != nil {
			return err
		}
		s.logger.Info("added user to group",
			zap.String("user_id", userID),
			zap.String("group", name))
	}

	return nil
}

// downloadProfilePicture fetches the avatar and inlines it as a base64 data
// URL. Both the request time and the response size are bounded.
func (s *AccountService) downloadProfilePicture(ctx context.Context, pictureURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, pictureTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pictureURL, nil)
	if err != nil {
		return "", fmt.Errorf("build picture request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download picture: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download picture: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPictureBytes+1))
	if err != nil {
		return "", fmt.Errorf("read picture: %w", err)
	}
	if len(body) > maxPictureBytes {
		return "", fmt.Errorf("picture exceeds %d bytes", maxPictureBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(body), nil
}

func (s *AccountService) notifySignup(ctx context.Context, user *domain.User) {
	if s.webhooks == nil {
		return
	}
	payload := webhook.NewPayload("oauth.user.signup", map[string]any{
		"id":    user.ID,
		"name":  user.Name,
		"email": user.Email,
		"role":  user.Role,
	})
	if err := s.webhooks.Post(ctx, payload); err != nil {
		s.logger.Warn("signup webhook failed", zap.Error(err))
	}
}

// extractUsername picks a display name: the name claim, then given_name, then
// the email local part.
func extractUsername(identity *domainoauth.UserInfo, email string) string {
	if identity.Name != "" {
		return identity.Name
	}
	if identity.GivenName != "" {
		return identity.GivenName
	}
	local, _, _ := strings.Cut(email, "@")
	return local
}

func containsString(list []string, target string) bool {
	for _, item := range list {
		if item == target {
			return true
		}
	}
	return false
}
