package server

import (
	"encoding/json"
	"net/http"
	"time"

	almanacauth "github.com/timewave-computer/almanac-sub002/pkg/auth"
)

// loginRequest is POST /api/v1/auth/login's body.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleLogin implements POST /api/v1/auth/login, spec.md §6. Passwords are
// not modeled by the in-memory UserStore (it holds no password hash field,
// matching original_source's UserStore); login here resolves a known,
// active username directly to a token, and authentication failures report
// the same message whether the username is unknown or inactive, per
// spec.md §7's "never reveal which credential field was wrong."
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, ok := s.Auth.Users.GetUserByUsername(req.Username)
	if !ok || !user.Active {
		s.writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := s.Auth.Tokens.GenerateToken(user)
	if err != nil {
		s.Logger.Printf("server: generate token: %v", err)
		s.writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	s.Auth.Users.RecordLogin(user.ID)

	s.writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"user":       user.Username,
		"expires_in": int(24 * time.Hour.Seconds()),
	})
}

type createAPIKeyRequest struct {
	Name string `json:"name"`
}

// handleCreateAPIKey implements POST /api/v1/auth/apikeys (Write+),
// spec.md §6. The raw key is returned exactly once; only its bcrypt hash
// is retained.
func (s *Server) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	user, ok := almanacauth.UserFromContext(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "missing authenticated user")
		return
	}

	var req createAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	record, raw, err := s.Auth.Users.CreateAPIKey(user.ID, req.Name, nil)
	if err != nil {
		s.Logger.Printf("server: create api key: %v", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create api key")
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]any{
		"id":         record.ID,
		"name":       record.Name,
		"key":        raw,
		"created_at": record.CreatedAt,
	})
}

// handleListUsers implements GET /api/v1/admin/users (Admin), spec.md §6.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"users": s.Auth.Users.ListUsers(),
	})
}

type createUserRequest struct {
	Username string           `json:"username"`
	Role     almanacauth.Role `json:"role"`
}

// handleCreateUser implements POST /api/v1/admin/users (Admin), spec.md §6.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Role == "" {
		req.Role = almanacauth.RoleRead
	}

	user, err := s.Auth.Users.CreateUser(req.Username, req.Role)
	if err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}

	s.writeJSON(w, http.StatusCreated, user)
}
