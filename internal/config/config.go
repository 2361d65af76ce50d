package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// GoogleConfig holds Google OAuth settings.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scope        string
}

// MicrosoftConfig holds Microsoft (Entra ID) OAuth settings.
type MicrosoftConfig struct {
	ClientID     string
	ClientSecret string
	TenantID     string
	LoginBaseURL string
	PictureURL   string
	RedirectURI  string
	Scope        string
}

// GitHubConfig holds GitHub OAuth settings.
type GitHubConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scope        string
}

// OIDCConfig holds the generic OIDC provider settings.
type OIDCConfig struct {
	ClientID     string
	ClientSecret string
	ProviderURL  string
	RedirectURI  string
	ProviderName string
	Scopes       string
	SubClaim     string
}

// FeishuConfig holds Feishu OAuth settings.
type FeishuConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scope        string
}

// Config contains runtime configuration values.
type Config struct {
	Environment string
	HTTPPort    string
	DatabaseURL string
	ServiceName string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// SecretKey signs locally issued session JWTs. SessionEncryptionKey feeds
	// the fernet cipher and falls back to SecretKey when unset.
	SecretKey            string
	SessionEncryptionKey string
	JWTExpiresIn         time.Duration
	FrontendBaseURL      string

	Google    GoogleConfig
	Microsoft MicrosoftConfig
	GitHub    GitHubConfig
	OIDC      OIDCConfig
	Feishu    FeishuConfig

	OAuthCodeChallengeMethod string
	EnableOAuthSignup        bool
	MergeAccountsByEmail     bool

	EnableRoleManagement bool
	AdminRoles           []string
	AllowedRoles         []string
	DefaultUserRole      string
	RolesClaim           string
	GroupsClaim          string

	EnableGroupManagement bool
	EnableGroupCreation   bool
	BlockedGroups         []string

	AllowedDomains      []string
	EnableIDTokenCookie bool

	WebhookURL string

	SessionCleanupInterval time.Duration

	RateLimitRPM      int
	TelemetryEndpoint string
	TelemetryInsecure bool

	CORSAllowedOrigins   []string
	CORSAllowedMethods   []string
	CORSAllowedHeaders   []string
	CORSAllowCredentials bool
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	secretKey := strings.TrimSpace(os.Getenv("SECRET_KEY"))
	if secretKey == "" {
		return Config{}, fmt.Errorf("SECRET_KEY is required")
	}

	cfg := Config{
		Environment: getEnv("APP_ENV", "development"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		ServiceName: getEnv("SERVICE_NAME", "lumen-auth"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getInt("REDIS_DB", 0),

		SecretKey:            secretKey,
		SessionEncryptionKey: getEnv("OAUTH_SESSION_ENCRYPTION_KEY", secretKey),
		JWTExpiresIn:         getDuration("JWT_EXPIRES_IN", 24*time.Hour),
		FrontendBaseURL:      getEnv("FRONTEND_BASE_URL", "http://localhost:3000"),

		Google: GoogleConfig{
			ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
			ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
			RedirectURI:  os.Getenv("GOOGLE_REDIRECT_URI"),
			Scope:        getEnv("GOOGLE_OAUTH_SCOPE", "openid email profile"),
		},
		Microsoft: MicrosoftConfig{
			ClientID:     os.Getenv("MICROSOFT_CLIENT_ID"),
			ClientSecret: os.Getenv("MICROSOFT_CLIENT_SECRET"),
			TenantID:     os.Getenv("MICROSOFT_CLIENT_TENANT_ID"),
			LoginBaseURL: getEnv("MICROSOFT_CLIENT_LOGIN_BASE_URL", "https://login.microsoftonline.com"),
			PictureURL:   getEnv("MICROSOFT_CLIENT_PICTURE_URL", "https://graph.microsoft.com/v1.0/me/photo/$value"),
			RedirectURI:  os.Getenv("MICROSOFT_REDIRECT_URI"),
			Scope:        getEnv("MICROSOFT_OAUTH_SCOPE", "openid email profile"),
		},
		GitHub: GitHubConfig{
			ClientID:     os.Getenv("GITHUB_CLIENT_ID"),
			ClientSecret: os.Getenv("GITHUB_CLIENT_SECRET"),
			RedirectURI:  os.Getenv("GITHUB_CLIENT_REDIRECT_URI"),
			Scope:        getEnv("GITHUB_CLIENT_SCOPE", "user:email"),
		},
		OIDC: OIDCConfig{
			ClientID:     os.Getenv("OAUTH_CLIENT_ID"),
			ClientSecret: os.Getenv("OAUTH_CLIENT_SECRET"),
			ProviderURL:  os.Getenv("OPENID_PROVIDER_URL"),
			RedirectURI:  os.Getenv("OPENID_REDIRECT_URI"),
			ProviderName: getEnv("OAUTH_PROVIDER_NAME", "sso"),
			Scopes:       getEnv("OAUTH_SCOPES", "openid email profile"),
			SubClaim:     os.Getenv("OAUTH_SUB_CLAIM"),
		},
		Feishu: FeishuConfig{
			ClientID:     os.Getenv("FEISHU_CLIENT_ID"),
			ClientSecret: os.Getenv("FEISHU_CLIENT_SECRET"),
			RedirectURI:  os.Getenv("FEISHU_REDIRECT_URI"),
			Scope:        getEnv("FEISHU_OAUTH_SCOPE", ""),
		},

		OAuthCodeChallengeMethod: os.Getenv("OAUTH_CODE_CHALLENGE_METHOD"),
		EnableOAuthSignup:        getBool("ENABLE_OAUTH_SIGNUP", false),
		MergeAccountsByEmail:     getBool("OAUTH_MERGE_ACCOUNTS_BY_EMAIL", false),

		EnableRoleManagement: getBool("ENABLE_OAUTH_ROLE_MANAGEMENT", false),
		AdminRoles:           getList("OAUTH_ADMIN_ROLES", []string{"admin"}),
		AllowedRoles:         getList("OAUTH_ALLOWED_ROLES", []string{"user", "admin"}),
		DefaultUserRole:      getEnv("DEFAULT_USER_ROLE", "user"),
		RolesClaim:           getEnv("OAUTH_ROLES_CLAIM", "roles"),
		GroupsClaim:          getEnv("OAUTH_GROUPS_CLAIM", "groups"),

		EnableGroupManagement: getBool("ENABLE_OAUTH_GROUP_MANAGEMENT", false),
		EnableGroupCreation:   getBool("ENABLE_OAUTH_GROUP_CREATION", false),
		BlockedGroups:         getList("OAUTH_BLOCKED_GROUPS", nil),

		AllowedDomains:      getList("OAUTH_ALLOWED_DOMAINS", []string{"*"}),
		EnableIDTokenCookie: getBool("ENABLE_OAUTH_ID_TOKEN_COOKIE", true),

		WebhookURL: os.Getenv("WEBHOOK_URL"),

		SessionCleanupInterval: getDuration("OAUTH_SESSION_CLEANUP_INTERVAL", time.Hour),

		RateLimitRPM:      getInt("RATE_LIMIT_RPM", 600),
		TelemetryEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure: getBool("OTEL_EXPORTER_OTLP_INSECURE", true),

		CORSAllowedOrigins:   getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		CORSAllowedMethods:   getList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
		CORSAllowedHeaders:   getList("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type"}),
		CORSAllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", false),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
