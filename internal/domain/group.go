package domain

// Group is a named collection of users, optionally synced from IdP claims.
type Group struct {
	ID          string
	UserID      string
	Name        string
	Description string
	UserIDs     []string
	CreatedAt   int64
	UpdatedAt   int64
}
