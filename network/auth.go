package network

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"os"
)

// Authentication errors
var (
	ErrAuthRequired      = errors.New("authentication required")
	ErrAuthTokenMismatch = errors.New("auth token mismatch")
)

// AuthConfig holds admin endpoint authentication configuration.
type AuthConfig struct {
	// Enabled determines if authentication is required
	Enabled bool
	// Token is the secret token that clients must provide
	Token string
}

// Authenticator validates admin endpoint access tokens. It is immutable
// after construction, so it is safe for concurrent use by every request
// handler without coordination.
type Authenticator struct {
	enabled bool
	token   string
}

// NewAuthenticator creates a new Authenticator with the given config.
func NewAuthenticator(config AuthConfig) *Authenticator {
	return &Authenticator{
		enabled: config.Enabled,
		token:   config.Token,
	}
}

// NewAuthenticatorFromEnv creates an Authenticator from environment
// variables CWIRE_AUTH_ENABLED and CWIRE_AUTH_TOKEN. If auth is enabled
// but no token is provided, a random one is generated.
func NewAuthenticatorFromEnv() *Authenticator {
	enabled := os.Getenv("CWIRE_AUTH_ENABLED") == "true" || os.Getenv("CWIRE_AUTH_ENABLED") == "1"
	token := os.Getenv("CWIRE_AUTH_TOKEN")

	if enabled && token == "" {
		token = GenerateToken()
	}

	return NewAuthenticator(AuthConfig{
		Enabled: enabled,
		Token:   token,
	})
}

// IsEnabled returns true if authentication is enabled.
func (a *Authenticator) IsEnabled() bool {
	return a.enabled
}

// Token returns the configured auth token (for displaying to the operator).
func (a *Authenticator) Token() string {
	return a.token
}

// ValidateToken checks the provided token against the configured one.
// Uses constant-time comparison to prevent timing attacks.
func (a *Authenticator) ValidateToken(providedToken string) error {
	if !a.enabled {
		return nil
	}

	if providedToken == "" {
		return ErrAuthRequired
	}

	if subtle.ConstantTimeCompare([]byte(a.token), []byte(providedToken)) != 1 {
		return ErrAuthTokenMismatch
	}

	return nil
}

// GenerateToken generates a cryptographically secure random token.
func GenerateToken() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "consensuswire-default-token-change-me"
	}
	return hex.EncodeToString(bytes)
}
