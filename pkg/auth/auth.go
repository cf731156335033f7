// Package auth implements the indexer's user/role model, JWT issuance and
// validation, and bcrypt-backed API keys, grounded on the teacher's
// repository-per-entity idiom and on original_source's crates/api/src/auth.rs
// (UserStore, TokenManager, AuthState).
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Role orders read < write < admin, mirroring UserRole::has_permission in
// the original.
type Role string

const (
	RoleRead  Role = "read"
	RoleWrite Role = "write"
	RoleAdmin Role = "admin"
)

var roleRank = map[Role]int{
	RoleRead:  1,
	RoleWrite: 2,
	RoleAdmin: 3,
}

// HasPermission reports whether r satisfies a check that requires at least
// required's level (admin satisfies everything, write satisfies write and
// read, read satisfies only read).
func (r Role) HasPermission(required Role) bool {
	return roleRank[r] >= roleRank[required]
}

// User is an account that can log in or own API keys.
type User struct {
	ID        string
	Username  string
	Role      Role
	CreatedAt time.Time
	LastLogin time.Time
	Active    bool
}

// APIKey is an issued credential; KeyHash is a bcrypt hash, never the raw
// key, which is returned once at creation time and never stored.
type APIKey struct {
	ID        string
	UserID    string
	Name      string
	KeyHash   string
	CreatedAt time.Time
	LastUsed  time.Time
	ExpiresAt *time.Time
	Active    bool
}

var (
	ErrUserExists   = errors.New("auth: username already exists")
	ErrUserNotFound = errors.New("auth: user not found")
	ErrInactiveUser = errors.New("auth: user is inactive")
)

// UserStore holds users, API keys, and revoked-token jtis in memory. The
// teacher's original seeds a default admin user via a spawned task; this
// constructor does the equivalent synchronously to avoid that race.
type UserStore struct {
	mu            sync.RWMutex
	users         map[string]*User
	usersByName   map[string]string
	apiKeys       map[string]*APIKey
	revokedTokens map[string]struct{}
}

// NewUserStore builds a store seeded with a single active admin user named
// "admin"; callers are expected to create an API key or rotate the password
// flow on top of it, since this store does not hold passwords.
func NewUserStore() *UserStore {
	s := &UserStore{
		users:         make(map[string]*User),
		usersByName:   make(map[string]string),
		apiKeys:       make(map[string]*APIKey),
		revokedTokens: make(map[string]struct{}),
	}
	admin := &User{
		ID:        uuid.NewString(),
		Username:  "admin",
		Role:      RoleAdmin,
		CreatedAt: time.Now(),
		Active:    true,
	}
	s.users[admin.ID] = admin
	s.usersByName[admin.Username] = admin.ID
	return s
}

// GetUser looks up a user by id.
func (s *UserStore) GetUser(id string) (*User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, false
	}
	cp := *u
	return &cp, true
}

// GetUserByUsername looks up a user by username.
func (s *UserStore) GetUserByUsername(username string) (*User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usersByName[username]
	if !ok {
		return nil, false
	}
	cp := *s.users[id]
	return &cp, true
}

// CreateUser registers a new user, rejecting duplicate usernames.
func (s *UserStore) CreateUser(username string, role Role) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.usersByName[username]; exists {
		return nil, ErrUserExists
	}
	u := &User{
		ID:        uuid.NewString(),
		Username:  username,
		Role:      role,
		CreatedAt: time.Now(),
		Active:    true,
	}
	s.users[u.ID] = u
	s.usersByName[username] = u.ID
	cp := *u
	return &cp, nil
}

// ListUsers returns every registered user.
func (s *UserStore) ListUsers() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, *u)
	}
	return out
}

// CreateAPIKey mints a new key for userID, returning both the stored record
// and the raw key (shown to the caller exactly once).
func (s *UserStore) CreateAPIKey(userID, name string, expiresAt *time.Time) (*APIKey, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return nil, "", ErrUserNotFound
	}

	raw, err := randomKey()
	if err != nil {
		return nil, "", fmt.Errorf("auth: generate api key: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("auth: hash api key: %w", err)
	}

	key := &APIKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		KeyHash:   string(hash),
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
		Active:    true,
	}
	s.apiKeys[key.ID] = key
	cp := *key
	return &cp, raw, nil
}

// ValidateAPIKey finds the active, unexpired key whose hash matches raw and
// returns its owning user.
func (s *UserStore) ValidateAPIKey(raw string) (*User, error) {
	s.mu.Lock()
	now := time.Now()
	var matched *APIKey
	for _, k := range s.apiKeys {
		if !k.Active {
			continue
		}
		if k.ExpiresAt != nil && now.After(*k.ExpiresAt) {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(k.KeyHash), []byte(raw)) == nil {
			matched = k
			break
		}
	}
	if matched != nil {
		matched.LastUsed = now
	}
	userID := ""
	if matched != nil {
		userID = matched.UserID
	}
	s.mu.Unlock()

	if matched == nil {
		return nil, ErrUserNotFound
	}
	u, ok := s.GetUser(userID)
	if !ok {
		return nil, ErrUserNotFound
	}
	if !u.Active {
		return nil, ErrInactiveUser
	}
	return u, nil
}

// ListAPIKeys returns the keys owned by userID.
func (s *UserStore) ListAPIKeys(userID string) []APIKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []APIKey
	for _, k := range s.apiKeys {
		if k.UserID == userID {
			out = append(out, *k)
		}
	}
	return out
}

// RevokeToken marks a JWT's jti as revoked.
func (s *UserStore) RevokeToken(jti string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revokedTokens[jti] = struct{}{}
}

// IsTokenRevoked reports whether jti has been revoked.
func (s *UserStore) IsTokenRevoked(jti string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, revoked := s.revokedTokens[jti]
	return revoked
}

// RecordLogin stamps a user's last-login time.
func (s *UserStore) RecordLogin(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		u.LastLogin = time.Now()
	}
}

func randomKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
