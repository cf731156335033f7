package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

const tokenTTL = 24 * time.Hour

// Claims is the JWT payload, matching original_source's Claims struct.
type Claims struct {
	Subject  string `json:"sub"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
	IssuedAt int64  `json:"iat"`
	ExpireAt int64  `json:"exp"`
	JTI      string `json:"jti"`
}

// Valid satisfies jwt.Claims. golang-jwt calls this during Parse; exp/iat
// are plain unix seconds here rather than jwt.NumericDate, so the expiry
// check is done by hand.
func (c Claims) Valid() error {
	if time.Now().Unix() > c.ExpireAt {
		return errors.New("auth: token expired")
	}
	return nil
}

// TokenManager issues and validates JWTs with a single shared secret.
type TokenManager struct {
	secret []byte
}

// NewTokenManager builds a manager around secret; callers own the secret's
// provenance (config, environment, KMS).
func NewTokenManager(secret []byte) *TokenManager {
	return &TokenManager{secret: secret}
}

// GenerateToken mints a signed JWT for user, valid for 24 hours.
func (m *TokenManager) GenerateToken(user *User) (string, error) {
	now := time.Now()
	claims := Claims{
		Subject:  user.ID,
		Username: user.Username,
		Role:     user.Role,
		IssuedAt: now.Unix(),
		ExpireAt: now.Add(tokenTTL).Unix(),
		JTI:      uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies a JWT, returning its claims.
func (m *TokenManager) ValidateToken(tokenString string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("auth: invalid token: %w", err)
	}
	return &claims, nil
}

// State bundles the user store and token manager, mirroring the original's
// AuthState, and implements pkg/subscription.Authenticator so WebSocket
// connections can authenticate in-band with the same bearer tokens the REST
// API accepts.
type State struct {
	Users  *UserStore
	Tokens *TokenManager
}

// NewState constructs a State with a freshly seeded user store.
func NewState(jwtSecret []byte) *State {
	return &State{
		Users:  NewUserStore(),
		Tokens: NewTokenManager(jwtSecret),
	}
}

// Authenticate resolves a bearer token, trying it first as a JWT and
// falling back to an API key, mirroring AuthState::authenticate.
func (s *State) Authenticate(bearer string) (*User, error) {
	if claims, err := s.Tokens.ValidateToken(bearer); err == nil {
		if s.Users.IsTokenRevoked(claims.JTI) {
			return nil, errors.New("auth: token revoked")
		}
		u, ok := s.Users.GetUser(claims.Subject)
		if !ok {
			return nil, ErrUserNotFound
		}
		if !u.Active {
			return nil, ErrInactiveUser
		}
		return u, nil
	}
	return s.Users.ValidateAPIKey(bearer)
}

// ValidateToken implements pkg/subscription.Authenticator.
func (s *State) ValidateToken(token string) (user, role string, err error) {
	u, err := s.Authenticate(token)
	if err != nil {
		return "", "", err
	}
	return u.Username, string(u.Role), nil
}
