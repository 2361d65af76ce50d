package oauth

import (
	"strings"

	domainoauth "github.com/lumenchat/lumen-auth/internal/domain/oauth"
)

// RoleAdmin and RoleUser are the roles claim matching can grant; anything
// else comes from the configured default.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// ExtractClaim resolves a dot-path claim from the identity's raw claim bag.
func (m *Manager) ExtractClaim(identity *domainoauth.UserInfo, path string) (any, bool) {
	if identity == nil || path == "" {
		return nil, false
	}
	return identity.Claim(path)
}

// ExtractRoles returns the roles claim as a string slice. Both a string array
// and a single string are accepted; any other shape yields nothing.
func (m *Manager) ExtractRoles(identity *domainoauth.UserInfo) []string {
	return m.stringListClaim(identity, m.cfg.RolesClaim)
}

// ExtractGroups returns the groups claim as a string slice.
func (m *Manager) ExtractGroups(identity *domainoauth.UserInfo) []string {
	return m.stringListClaim(identity, m.cfg.GroupsClaim)
}

func (m *Manager) stringListClaim(identity *domainoauth.UserInfo, path string) []string {
	value, ok := m.ExtractClaim(identity, path)
	if !ok {
		return nil
	}
	switch v := value.(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{v}
	default:
		return nil
	}
}

// DetermineRole applies the role policy: the first user ever created is
// admin; with role management disabled everyone else gets the default role;
// otherwise admin-role and allowed-role lists are matched in that order.
func (m *Manager) DetermineRole(identity *domainoauth.UserInfo, isFirstUser bool) string {
	if isFirstUser {
		return RoleAdmin
	}
	if !m.cfg.EnableRoleManagement {
		return m.cfg.DefaultUserRole
	}

	roles := m.ExtractRoles(identity)
	for _, role := range roles {
		if contains(m.cfg.AdminRoles, role) {
			return RoleAdmin
		}
	}
	for _, role := range roles {
		if contains(m.cfg.AllowedRoles, role) {
			return RoleUser
		}
	}
	return m.cfg.DefaultUserRole
}

// IsEmailDomainAllowed checks the address against the domain allow-list; a
// "*" entry allows every domain.
func (m *Manager) IsEmailDomainAllowed(email string) bool {
	if contains(m.cfg.AllowedDomains, "*") {
		return true
	}
	_, domain, found := strings.Cut(email, "@")
	if !found {
		return false
	}
	return contains(m.cfg.AllowedDomains, domain)
}

func contains(list []string, target string) bool {
	for _, item := range list {
		if item == target {
			return true
		}
	}
	return false
}
