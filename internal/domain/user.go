package domain

// User represents an end user that can authenticate through an OAuth provider.
type User struct {
	ID              string
	Name            string
	Email           string
	Role            string
	ProfileImageURL string
	// OAuthSub links the user to an external identity as "provider@subject".
	OAuthSub     string
	LastActiveAt int64
	CreatedAt    int64
	UpdatedAt    int64
}
