package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRoleHasPermission(t *testing.T) {
	require.True(t, RoleAdmin.HasPermission(RoleRead))
	require.True(t, RoleAdmin.HasPermission(RoleWrite))
	require.True(t, RoleWrite.HasPermission(RoleRead))
	require.False(t, RoleRead.HasPermission(RoleWrite))
	require.False(t, RoleWrite.HasPermission(RoleAdmin))
}

func TestNewUserStoreSeedsAdmin(t *testing.T) {
	store := NewUserStore()
	u, ok := store.GetUserByUsername("admin")
	require.True(t, ok)
	require.Equal(t, RoleAdmin, u.Role)
	require.True(t, u.Active)
}

func TestCreateUserRejectsDuplicateUsername(t *testing.T) {
	store := NewUserStore()
	_, err := store.CreateUser("admin", RoleRead)
	require.ErrorIs(t, err, ErrUserExists)
}

func TestCreateAndValidateAPIKey(t *testing.T) {
	store := NewUserStore()
	admin, _ := store.GetUserByUsername("admin")

	record, raw, err := store.CreateAPIKey(admin.ID, "ci", nil)
	require.NoError(t, err)
	require.NotEmpty(t, raw)
	require.NotEqual(t, raw, record.KeyHash)

	resolved, err := store.ValidateAPIKey(raw)
	require.NoError(t, err)
	require.Equal(t, admin.ID, resolved.ID)

	_, err = store.ValidateAPIKey("not-a-real-key")
	require.Error(t, err)
}

func TestValidateAPIKeyRejectsExpired(t *testing.T) {
	store := NewUserStore()
	admin, _ := store.GetUserByUsername("admin")
	past := time.Now().Add(-time.Hour)

	_, raw, err := store.CreateAPIKey(admin.ID, "expired", &past)
	require.NoError(t, err)

	_, err = store.ValidateAPIKey(raw)
	require.Error(t, err)
}

func TestTokenManagerRoundTrip(t *testing.T) {
	mgr := NewTokenManager([]byte("test-secret"))
	user := &User{ID: "user-1", Username: "alice", Role: RoleWrite, Active: true}

	signed, err := mgr.GenerateToken(user)
	require.NoError(t, err)

	claims, err := mgr.ValidateToken(signed)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Equal(t, RoleWrite, claims.Role)
	require.NotEmpty(t, claims.JTI)
}

func TestStateAuthenticateViaJWTAndRevocation(t *testing.T) {
	state := NewState([]byte("test-secret"))
	admin, _ := state.Users.GetUserByUsername("admin")

	token, err := state.Tokens.GenerateToken(admin)
	require.NoError(t, err)

	resolved, err := state.Authenticate(token)
	require.NoError(t, err)
	require.Equal(t, admin.ID, resolved.ID)

	claims, err := state.Tokens.ValidateToken(token)
	require.NoError(t, err)
	state.Users.RevokeToken(claims.JTI)

	_, err = state.Authenticate(token)
	require.Error(t, err)
}

func TestStateValidateTokenSatisfiesAuthenticatorInterface(t *testing.T) {
	state := NewState([]byte("test-secret"))
	admin, _ := state.Users.GetUserByUsername("admin")
	token, err := state.Tokens.GenerateToken(admin)
	require.NoError(t, err)

	user, role, err := state.ValidateToken(token)
	require.NoError(t, err)
	require.Equal(t, "admin", user)
	require.Equal(t, "admin", role)
}
