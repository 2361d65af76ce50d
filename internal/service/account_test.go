package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lumenchat/lumen-auth/internal/config"
	"github.com/lumenchat/lumen-auth/internal/domain"
	domainoauth "github.com/lumenchat/lumen-auth/internal/domain/oauth"
	"github.com/lumenchat/lumen-auth/internal/oauth"
	"github.com/lumenchat/lumen-auth/internal/webhook"
)

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]domain.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]domain.User)}
}

func (r *fakeUserRepo) GetByOAuthSub(_ context.Context, oauthSub string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.OAuthSub == oauthSub {
			user := u
			return &user, nil
		}
	}
	return nil, nil
}

func (r *fakeUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			user := u
			return &user, nil
		}
	}
	return nil, nil
}

func (r *fakeUserRepo) Count(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.users)), nil
}

func (r *fakeUserRepo) Create(_ context.Context, user domain.User) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = user
	return &user, nil
}

func (r *fakeUserRepo) LinkOAuthSub(_ context.Context, userID, oauthSub string, updatedAt int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := r.users[userID]
	u.OAuthSub = oauthSub
	u.UpdatedAt = updatedAt
	r.users[userID] = u
	return nil
}

type fakeGroupRepo struct {
	mu      sync.Mutex
	groups  map[string]domain.Group
	members map[string]map[string]bool
}

func newFakeGroupRepo() *fakeGroupRepo {
	return &fakeGroupRepo{
		groups:  make(map[string]domain.Group),
		members: make(map[string]map[string]bool),
	}
}

func (r *fakeGroupRepo) GetIDByName(_ context.Context, name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, g := range r.groups {
		if g.Name == name {
			return id, nil
		}
	}
	return "", nil
}

func (r *fakeGroupRepo) CreateIfAbsent(_ context.Context, group domain.Group) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.groups {
		if g.Name == group.Name {
			return nil
		}
	}
	r.groups[group.ID] = group
	r.members[group.ID] = make(map[string]bool)
	return nil
}

func (r *fakeGroupRepo) IsMember(_ context.Context, groupID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.members[groupID][userID], nil
}

func (r *fakeGroupRepo) AddMember(_ context.Context, groupID, userID string, _ int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.members[groupID] == nil {
		r.members[groupID] = make(map[string]bool)
	}
	r.members[groupID][userID] = true
	return nil
}

func (r *fakeGroupRepo) memberCount(groupID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members[groupID])
}

type accountHarness struct {
	accounts *AccountService
	users    *fakeUserRepo
	groups   *fakeGroupRepo
}

func newAccountHarness(t *testing.T, cfg config.Config) *accountHarness {
	t.Helper()
	users := newFakeUserRepo()
	groups := newFakeGroupRepo()
	manager := oauth.NewManager(cfg, nil, nil, nil, zap.NewNop())
	accounts := NewAccountService(cfg, users, groups, manager, nil, nil, zap.NewNop())
	return &accountHarness{accounts: accounts, users: users, groups: groups}
}

func signupConfig() config.Config {
	return config.Config{
		EnableOAuthSignup: true,
		DefaultUserRole:   "user",
		AllowedDomains:    []string{"*"},
	}
}

func googleIdentity(sub, email string) *domainoauth.UserInfo {
	return &domainoauth.UserInfo{
		Sub:    sub,
		Email:  email,
		Name:   "Test User",
		Claims: map[string]any{"sub": sub, "email": email},
	}
}

func TestResolveUser_FirstUserBecomesAdmin(t *testing.T) {
	h := newAccountHarness(t, signupConfig())

	user, err := h.accounts.ResolveUser(context.Background(), "google", googleIdentity("sub-1", "first@example.com"))
	require.NoError(t, err)
	require.Equal(t, "admin", user.Role)
	require.Equal(t, "google@sub-1", user.OAuthSub)
	require.Equal(t, "Test User", user.Name)
}

func TestResolveUser_SecondUserGetsDefaultRole(t *testing.T) {
	h := newAccountHarness(t, signupConfig())
	ctx := context.Background()

	_, err := h.accounts.ResolveUser(ctx, "google", googleIdentity("sub-1", "first@example.com"))
	require.NoError(t, err)

	second, err := h.accounts.ResolveUser(ctx, "google", googleIdentity("sub-2", "second@example.com"))
	require.NoError(t, err)
	require.Equal(t, "user", second.Role)
}

func TestResolveUser_ExistingUserFoundBySub(t *testing.T) {
	h := newAccountHarness(t, signupConfig())
	ctx := context.Background()

	created, err := h.accounts.ResolveUser(ctx, "google", googleIdentity("sub-1", "user@example.com"))
	require.NoError(t, err)

	again, err := h.accounts.ResolveUser(ctx, "google", googleIdentity("sub-1", "changed@example.com"))
	require.NoError(t, err)
	require.Equal(t, created.ID, again.ID)

	count, err := h.users.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestResolveUser_EmailMissing(t *testing.T) {
	h := newAccountHarness(t, signupConfig())

	identity := &domainoauth.UserInfo{Sub: "sub-1"}
	_, err := h.accounts.ResolveUser(context.Background(), "github", identity)
	require.ErrorIs(t, err, domainoauth.ErrEmailMissing)
}

func TestResolveUser_DomainNotAllowed(t *testing.T) {
	cfg := signupConfig()
	cfg.AllowedDomains = []string{"corp.io"}
	h := newAccountHarness(t, cfg)

	_, err := h.accounts.ResolveUser(context.Background(), "google", googleIdentity("sub-1", "user@elsewhere.com"))
	require.ErrorIs(t, err, domainoauth.ErrEmailDomainNotAllowed)
}

func TestResolveUser_SignupDisabled(t *testing.T) {
	cfg := signupConfig()
	cfg.EnableOAuthSignup = false
	h := newAccountHarness(t, cfg)

	_, err := h.accounts.ResolveUser(context.Background(), "google", googleIdentity("sub-1", "user@example.com"))
	require.ErrorIs(t, err, domainoauth.ErrSignupDisabled)
}

func TestResolveUser_MergeByEmailLinksIdentity(t *testing.T) {
	cfg := signupConfig()
	cfg.MergeAccountsByEmail = true
	h := newAccountHarness(t, cfg)
	ctx := context.Background()

	existing, err := h.users.Create(ctx, domain.User{
		ID:    "user-password",
		Name:  "Password User",
		Email: "user@example.com",
		Role:  "user",
	})
	require.NoError(t, err)

	merged, err := h.accounts.ResolveUser(ctx, "google", googleIdentity("sub-1", "user@example.com"))
	require.NoError(t, err)
	require.Equal(t, existing.ID, merged.ID)
	require.Equal(t, "google@sub-1", merged.OAuthSub)

	stored, err := h.users.GetByOAuthSub(ctx, "google@sub-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, existing.ID, stored.ID)
}

func TestResolveUser_NoMergeWithoutFlag(t *testing.T) {
	h := newAccountHarness(t, signupConfig())
	ctx := context.Background()

	_, err := h.users.Create(ctx, domain.User{
		ID:    "user-password",
		Email: "user@example.com",
		Role:  "user",
	})
	require.NoError(t, err)

	resolved, err := h.accounts.ResolveUser(ctx, "google", googleIdentity("sub-1", "user@example.com"))
	require.NoError(t, err)
	require.NotEqual(t, "user-password", resolved.ID, "a separate account is created when merging is off")
}

func TestResolveUser_PendingRoleRejected(t *testing.T) {
	cfg := signupConfig()
	cfg.DefaultUserRole = "pending"
	h := newAccountHarness(t, cfg)
	ctx := context.Background()

	// Occupy the first-user slot so the default role applies.
	_, err := h.users.Create(ctx, domain.User{ID: "existing", Email: "a@example.com", Role: "admin"})
	require.NoError(t, err)

	_, err = h.accounts.ResolveUser(ctx, "google", googleIdentity("sub-2", "b@example.com"))
	require.ErrorIs(t, err, domainoauth.ErrRoleForbidden)
}

func TestResolveUser_UsernameFallbacks(t *testing.T) {
	h := newAccountHarness(t, signupConfig())
	ctx := context.Background()

	identity := &domainoauth.UserInfo{Sub: "sub-1", Email: "local.part@example.com", GivenName: "Given"}
	user, err := h.accounts.ResolveUser(ctx, "google", identity)
	require.NoError(t, err)
	require.Equal(t, "Given", user.Name)

	identity = &domainoauth.UserInfo{Sub: "sub-2", Email: "local.part2@example.com"}
	user, err = h.accounts.ResolveUser(ctx, "google", identity)
	require.NoError(t, err)
	require.Equal(t, "local.part2", user.Name)
}

func TestResolveUser_ProfilePictureInlined(t *testing.T) {
	avatar := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
	}))
	t.Cleanup(avatar.Close)

	h := newAccountHarness(t, signupConfig())
	h.accounts.client = avatar.Client()

	identity := googleIdentity("sub-1", "user@example.com")
	identity.Picture = avatar.URL + "/avatar.png"

	user, err := h.accounts.ResolveUser(context.Background(), "google", identity)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(user.ProfileImageURL, "data:image/png;base64,"))
}

func TestResolveUser_PictureFailureIsNotFatal(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	t.Cleanup(broken.Close)

	h := newAccountHarness(t, signupConfig())
	h.accounts.client = broken.Client()

	identity := googleIdentity("sub-1", "user@example.com")
	identity.Picture = broken.URL + "/avatar.png"

	user, err := h.accounts.ResolveUser(context.Background(), "google", identity)
	require.NoError(t, err)
	require.Empty(t, user.ProfileImageURL)
}

func TestResolveUser_SignupWebhookDelivered(t *testing.T) {
	var received webhook.Payload
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(hook.Close)

	h := newAccountHarness(t, signupConfig())
	h.accounts.webhooks = webhook.NewClient(hook.URL, hook.Client())

	user, err := h.accounts.ResolveUser(context.Background(), "google", googleIdentity("sub-1", "user@example.com"))
	require.NoError(t, err)

	require.Equal(t, "oauth.user.signup", received.Event)
	require.Equal(t, user.ID, received.Data["id"])
	require.Equal(t, "user@example.com", received.Data["email"])
}

func groupSyncConfig() config.Config {
	cfg := signupConfig()
	cfg.EnableGroupManagement = true
	cfg.EnableGroupCreation = true
	cfg.GroupsClaim = "groups"
	return cfg
}

func groupIdentity(groups ...any) *domainoauth.UserInfo {
	return &domainoauth.UserInfo{
		Sub:    "sub-1",
		Email:  "user@example.com",
		Claims: map[string]any{"groups": groups},
	}
}

func TestSyncGroups_CreatesAndJoins(t *testing.T) {
	h := newAccountHarness(t, groupSyncConfig())
	ctx := context.Background()

	require.NoError(t, h.accounts.SyncGroups(ctx, "user-1", groupIdentity("engineering", "oncall")))

	for _, name := range []string{"engineering", "oncall"} {
		id, err := h.groups.GetIDByName(ctx, name)
		require.NoError(t, err)
		require.NotEmpty(t, id)
		member, err := h.groups.IsMember(ctx, id, "user-1")
		require.NoError(t, err)
		require.True(t, member)
	}
}

func TestSyncGroups_Idempotent(t *testing.T) {
	h := newAccountHarness(t, groupSyncConfig())
	ctx := context.Background()

	require.NoError(t, h.accounts.SyncGroups(ctx, "user-1", groupIdentity("engineering")))
	require.NoError(t, h.accounts.SyncGroups(ctx, "user-1", groupIdentity("engineering")))

	id, err := h.groups.GetIDByName(ctx, "engineering")
	require.NoError(t, err)
	require.Equal(t, 1, h.groups.memberCount(id))
}

func TestSyncGroups_BlockedGroupsFiltered(t *testing.T) {
	cfg := groupSyncConfig()
	cfg.BlockedGroups = []string{"everyone"}
	h := newAccountHarness(t, cfg)
	ctx := context.Background()

	require.NoError(t, h.accounts.SyncGroups(ctx, "user-1", groupIdentity("everyone", "oncall")))

	id, err := h.groups.GetIDByName(ctx, "everyone")
	require.NoError(t, err)
	require.Empty(t, id)

	id, err = h.groups.GetIDByName(ctx, "oncall")
	require.NoError(t, err)
	require.NotEmpty(t, id)
}

func TestSyncGroups_CreationDisabledSkipsUnknownGroups(t *testing.T) {
	cfg := groupSyncConfig()
	cfg.EnableGroupCreation = false
	h := newAccountHarness(t, cfg)
	ctx := context.Background()

	require.NoError(t, h.groups.CreateIfAbsent(ctx, domain.Group{ID: "g1", Name: "existing"}))

	require.NoError(t, h.accounts.SyncGroups(ctx, "user-1", groupIdentity("existing", "brand-new")))

	id, err := h.groups.GetIDByName(ctx, "brand-new")
	require.NoError(t, err)
	require.Empty(t, id)

	member, err := h.groups.IsMember(ctx, "g1", "user-1")
	require.NoError(t, err)
	require.True(t, member)
}

func TestSyncGroups_DisabledManagementIsNoop(t *testing.T) {
	cfg := groupSyncConfig()
	cfg.EnableGroupManagement = false
	h := newAccountHarness(t, cfg)
	ctx := context.Background()

	require.NoError(t, h.accounts.SyncGroups(ctx, "user-1", groupIdentity("engineering")))

	id, err := h.groups.GetIDByName(ctx, "engineering")
	require.NoError(t, err)
	require.Empty(t, id)
}
