// Package keycloaktest runs an in-process identity provider speaking the
// subset of the Keycloak token and admin APIs this service uses.
package keycloaktest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/storefront-user-service/pkg/config"
	"github.com/go-chi/chi/v5"
	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	Realm        = "ecommerce"
	ClientID     = "user-service"
	ClientSecret = "client-secret"
	AdminUser    = "admin"
	AdminPass    = "admin-pass"

	accessTTL  = 5 * time.Minute
	refreshTTL = 30 * time.Minute
	keyID      = "test-kid"
)

// User is the fake's stored identity.
type User struct {
	ID            string
	Username      string
	Email         string
	FirstName     string
	LastName      string
	Enabled       bool
	EmailVerified bool
	Password      string
	Roles         []string
	Created       time.Time
}

// Server is a fake Keycloak. All methods are safe for concurrent use.
type Server struct {
	*httptest.Server

	key         *rsa.PrivateKey
	refreshKey  []byte
	realmRoles  map[string]string
	mu          sync.Mutex
	users       map[string]*User
	adminTokens map[string]struct{}
	sessions    map[string]string
	faults      map[string]int
	adminGrants int
	adminDelay  time.Duration
	logoutCalls int
}

// New starts a fake realm with the managed roles defined.
func New(t testing.TB) *Server {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	s := &Server{
		key:        key,
		refreshKey: []byte(uuid.NewString()),
		realmRoles: map[string]string{
			"customer":       uuid.NewString(),
			"seller":         uuid.NewString(),
			"admin":          uuid.NewString(),
			"offline_access": uuid.NewString(),
		},
		users:       map[string]*User{},
		adminTokens: map[string]struct{}{},
		sessions:    map[string]string{},
		faults:      map[string]int{},
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

// Config returns a KeycloakConfig pointing at the fake.
func (s *Server) Config() config.KeycloakConfig {
	return config.KeycloakConfig{
		Enabled:       true,
		URL:           s.URL,
		Realm:         Realm,
		ClientID:      ClientID,
		ClientSecret:  ClientSecret,
		AdminRealm:    "master",
		AdminClientID: "admin-cli",
		AdminUsername: AdminUser,
		AdminPassword: AdminPass,
		Audience:      "account",
		JWKSCacheTTL:  time.Minute,
		HTTPTimeout:   5 * time.Second,
	}
}

// Issuer is the iss claim stamped on access tokens.
func (s *Server) Issuer() string {
	return s.URL + "/realms/" + Realm
}

// AddUser seeds an identity and returns its subject id.
func (s *Server) AddUser(u User) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Created.IsZero() {
		u.Created = time.Now()
	}
	copied := u
	s.users[u.ID] = &copied
	return u.ID
}

// SetRoles replaces the realm roles of an identity. Tokens issued afterwards
// carry the new roles.
func (s *Server) SetRoles(id string, roles ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		u.Roles = append([]string(nil), roles...)
	}
}

// User returns a copy of the stored identity.
func (s *Server) User(id string) (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, false
	}
	copied := *u
	copied.Roles = append([]string(nil), u.Roles...)
	return copied, true
}

// UserByUsername looks an identity up by username.
func (s *Server) UserByUsername(username string) (User, bool) {
	s.mu.Lock()
	var id string
	for _, u := range s.users {
		if strings.EqualFold(u.Username, username) {
			id = u.ID
		}
	}
	s.mu.Unlock()
	if id == "" {
		return User{}, false
	}
	return s.User(id)
}

// UserCount reports how many identities exist.
func (s *Server) UserCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

// FailNext makes the next call of op answer with status. Ops are named
// create_user, get_user, update_user, delete_user, list_users, get_role,
// assign_role, remove_role, get_role_mappings, logout.
func (s *Server) FailNext(op string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = status
}

// DelayAdminGrants holds every admin token response for d.
func (s *Server) DelayAdminGrants(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adminDelay = d
}

// ExpireAdminTokens invalidates every issued admin token.
func (s *Server) ExpireAdminTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adminTokens = map[string]struct{}{}
}

// AdminGrants counts successful admin token acquisitions.
func (s *Server) AdminGrants() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adminGrants
}

// LogoutCalls counts logout requests received.
func (s *Server) LogoutCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logoutCalls
}

// SignAccessToken mints an access token for u with the fake's key.
func (s *Server) SignAccessToken(u User, sid string, ttl time.Duration) string {
	now := time.Now()
	claims := jwt.MapClaims{
		"jti":                uuid.NewString(),
		"iss":                s.Issuer(),
		"aud":                "account",
		"sub":                u.ID,
		"typ":                "Bearer",
		"azp":                ClientID,
		"sid":                sid,
		"iat":                now.Unix(),
		"exp":                now.Add(ttl).Unix(),
		"preferred_username": strings.ToLower(u.Username),
		"email":              u.Email,
		"email_verified":     u.EmailVerified,
		"given_name":         u.FirstName,
		"family_name":        u.LastName,
		"realm_access":       map[string]any{"roles": append([]string(nil), u.Roles...)},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = keyID
	raw, _ := token.SignedString(s.key)
	return raw
}

func (s *Server) signRefreshToken(u User, sid string) string {
	now := time.Now()
	claims := jwt.MapClaims{
		"jti": uuid.NewString(),
		"iss": s.Issuer(),
		"aud": s.Issuer(),
		"sub": u.ID,
		"typ": "Refresh",
		"sid": sid,
		"iat": now.Unix(),
		"exp": now.Add(refreshTTL).Unix(),
	}
	raw, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.refreshKey)
	return raw
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/realms/{realm}/protocol/openid-connect/certs", s.handleCerts)
	r.Post("/realms/{realm}/protocol/openid-connect/token", s.handleToken)
	r.Post("/realms/{realm}/protocol/openid-connect/logout", s.handleLogout)

	r.Route("/admin/realms/{realm}", func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Get("/users", s.handleListUsers)
		r.Post("/users", s.handleCreateUser)
		r.Get("/users/{id}", s.handleGetUser)
		r.Put("/users/{id}", s.handleUpdateUser)
		r.Delete("/users/{id}", s.handleDeleteUser)
		r.Get("/roles/{role}", s.handleGetRole)
		r.Get("/users/{id}/role-mappings/realm", s.handleGetMappings)
		r.Post("/users/{id}/role-mappings/realm", s.handleAddMappings)
		r.Delete("/users/{id}/role-mappings/realm", s.handleDeleteMappings)
	})
	return r
}

func (s *Server) fault(op string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.faults[op]
	if ok {
		delete(s.faults, op)
	}
	return status, ok
}

func (s *Server) handleCerts(w http.ResponseWriter, r *http.Request) {
	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{
		{Key: &s.key.PublicKey, KeyID: keyID, Algorithm: "RS256", Use: "sig"},
	}}
	writeJSON(w, http.StatusOK, set)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		oauthError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	realm := chi.URLParam(r, "realm")
	if realm == "master" {
		s.adminToken(w, r)
		return
	}
	if realm != Realm {
		oauthError(w, http.StatusNotFound, "realm_not_found")
		return
	}
	if r.PostForm.Get("client_id") != ClientID || r.PostForm.Get("client_secret") != ClientSecret {
		oauthError(w, http.StatusUnauthorized, "invalid_client")
		return
	}
	switch r.PostForm.Get("grant_type") {
	case "password":
		s.passwordGrant(w, r)
	case "refresh_token":
		s.refreshGrant(w, r)
	default:
		oauthError(w, http.StatusBadRequest, "unsupported_grant_type")
	}
}

func (s *Server) adminToken(w http.ResponseWriter, r *http.Request) {
	if r.PostForm.Get("grant_type") != "password" || r.PostForm.Get("client_id") != "admin-cli" ||
		r.PostForm.Get("username") != AdminUser || r.PostForm.Get("password") != AdminPass {
		oauthError(w, http.StatusUnauthorized, "invalid_grant")
		return
	}
	s.mu.Lock()
	delay := s.adminDelay
	s.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	token := "admin-" + uuid.NewString()
	s.mu.Lock()
	s.adminTokens[token] = struct{}{}
	s.adminGrants++
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   60,
	})
}

func (s *Server) passwordGrant(w http.ResponseWriter, r *http.Request) {
	username := r.PostForm.Get("username")
	password := r.PostForm.Get("password")
	u, ok := s.UserByUsername(username)
	if !ok || u.Password != password || !u.Enabled {
		oauthError(w, http.StatusUnauthorized, "invalid_grant")
		return
	}
	sid := uuid.NewString()
	s.mu.Lock()
	s.sessions[sid] = u.ID
	s.mu.Unlock()
	s.writeTokens(w, u, sid)
}

func (s *Server) refreshGrant(w http.ResponseWriter, r *http.Request) {
	sid, ok := s.liveSession(r.PostForm.Get("refresh_token"))
	if !ok {
		oauthError(w, http.StatusBadRequest, "invalid_grant")
		return
	}
	s.mu.Lock()
	userID := s.sessions[sid]
	s.mu.Unlock()
	u, ok := s.User(userID)
	if !ok {
		oauthError(w, http.StatusBadRequest, "invalid_grant")
		return
	}
	s.writeTokens(w, u, sid)
}

func (s *Server) writeTokens(w http.ResponseWriter, u User, sid string) {
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":       s.SignAccessToken(u, sid, accessTTL),
		"refresh_token":      s.signRefreshToken(u, sid),
		"token_type":         "Bearer",
		"expires_in":         int(accessTTL.Seconds()),
		"refresh_expires_in": int(refreshTTL.Seconds()),
		"scope":              "profile email",
		"session_state":      sid,
	})
}

func (s *Server) liveSession(raw string) (string, bool) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return s.refreshKey, nil },
		jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", false
	}
	sid, _ := claims["sid"].(string)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[sid]
	return sid, ok
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.logoutCalls++
	s.mu.Unlock()
	if status, ok := s.fault("logout"); ok {
		w.WriteHeader(status)
		return
	}
	if err := r.ParseForm(); err != nil {
		oauthError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	sid, ok := s.liveSession(r.PostForm.Get("refresh_token"))
	if !ok {
		oauthError(w, http.StatusBadRequest, "invalid_grant")
		return
	}
	s.mu.Lock()
	delete(s.sessions, sid)
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		_, ok := s.adminTokens[token]
		s.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if chi.URLParam(r, "realm") != Realm {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type userRep struct {
	ID               string `json:"id,omitempty"`
	Username         string `json:"username"`
	Email            string `json:"email,omitempty"`
	FirstName        string `json:"firstName,omitempty"`
	LastName         string `json:"lastName,omitempty"`
	Enabled          bool   `json:"enabled"`
	EmailVerified    bool   `json:"emailVerified"`
	CreatedTimestamp int64  `json:"createdTimestamp"`
}

func toRep(u *User) userRep {
	return userRep{
		ID:               u.ID,
		Username:         strings.ToLower(u.Username),
		Email:            u.Email,
		FirstName:        u.FirstName,
		LastName:         u.LastName,
		Enabled:          u.Enabled,
		EmailVerified:    u.EmailVerified,
		CreatedTimestamp: u.Created.UnixMilli(),
	}
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if status, ok := s.fault("list_users"); ok {
		w.WriteHeader(status)
		return
	}
	first, _ := strconv.Atoi(r.URL.Query().Get("first"))
	limit, err := strconv.Atoi(r.URL.Query().Get("max"))
	if err != nil || limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	all := make([]userRep, 0, len(s.users))
	for _, u := range s.users {
		all = append(all, toRep(u))
	}
	s.mu.Unlock()
	sort.Slice(all, func(i, j int) bool { return all[i].Username < all[j].Username })
	if first > len(all) {
		first = len(all)
	}
	end := first + limit
	if end > len(all) {
		end = len(all)
	}
	writeJSON(w, http.StatusOK, all[first:end])
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if status, ok := s.fault("create_user"); ok {
		w.WriteHeader(status)
		return
	}
	var body struct {
		Username    string `json:"username"`
		Email       string `json:"email"`
		FirstName   string `json:"firstName"`
		LastName    string `json:"lastName"`
		Enabled     bool   `json:"enabled"`
		Credentials []struct {
			Value string `json:"value"`
		} `json:"credentials"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Username == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"errorMessage": "invalid user"})
		return
	}
	s.mu.Lock()
	for _, u := range s.users {
		if strings.EqualFold(u.Username, body.Username) {
			s.mu.Unlock()
			writeJSON(w, http.StatusConflict, map[string]string{"errorMessage": "User exists with same username"})
			return
		}
		if body.Email != "" && strings.EqualFold(u.Email, body.Email) {
			s.mu.Unlock()
			writeJSON(w, http.StatusConflict, map[string]string{"errorMessage": "User exists with same email"})
			return
		}
	}
	u := &User{
		ID:        uuid.NewString(),
		Username:  strings.ToLower(body.Username),
		Email:     strings.ToLower(body.Email),
		FirstName: body.FirstName,
		LastName:  body.LastName,
		Enabled:   body.Enabled,
		Created:   time.Now(),
	}
	if len(body.Credentials) > 0 {
		u.Password = body.Credentials[0].Value
	}
	s.users[u.ID] = u
	s.mu.Unlock()

	w.Header().Set("Location", fmt.Sprintf("%s/admin/realms/%s/users/%s", s.URL, Realm, u.ID))
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request, op string) (*User, bool) {
	if status, ok := s.fault(op); ok {
		w.WriteHeader(status)
		return nil, false
	}
	s.mu.Lock()
	u, ok := s.users[chi.URLParam(r, "id")]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
		return nil, false
	}
	return u, true
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, ok := s.lookup(w, r, "get_user")
	if !ok {
		return
	}
	s.mu.Lock()
	rep := toRep(u)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	u, ok := s.lookup(w, r, "update_user")
	if !ok {
		return
	}
	var body struct {
		Username  *string `json:"username"`
		Email     *string `json:"email"`
		FirstName *string `json:"firstName"`
		LastName  *string `json:"lastName"`
		Enabled   *bool   `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.users {
		if other.ID == u.ID {
			continue
		}
		if body.Email != nil && strings.EqualFold(other.Email, *body.Email) {
			writeJSON(w, http.StatusConflict, map[string]string{"errorMessage": "User exists with same email"})
			return
		}
		if body.Username != nil && strings.EqualFold(other.Username, *body.Username) {
			writeJSON(w, http.StatusConflict, map[string]string{"errorMessage": "User exists with same username"})
			return
		}
	}
	if body.Username != nil {
		u.Username = strings.ToLower(*body.Username)
	}
	if body.Email != nil {
		u.Email = strings.ToLower(*body.Email)
	}
	if body.FirstName != nil {
		u.FirstName = *body.FirstName
	}
	if body.LastName != nil {
		u.LastName = *body.LastName
	}
	if body.Enabled != nil {
		u.Enabled = *body.Enabled
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	u, ok := s.lookup(w, r, "delete_user")
	if !ok {
		return
	}
	s.mu.Lock()
	delete(s.users, u.ID)
	for sid, owner := range s.sessions {
		if owner == u.ID {
			delete(s.sessions, sid)
		}
	}
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

type roleRep struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (s *Server) handleGetRole(w http.ResponseWriter, r *http.Request) {
	if status, ok := s.fault("get_role"); ok {
		w.WriteHeader(status)
		return
	}
	name := chi.URLParam(r, "role")
	id, ok := s.realmRoles[name]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Could not find role"})
		return
	}
	writeJSON(w, http.StatusOK, roleRep{ID: id, Name: name})
}

func (s *Server) handleGetMappings(w http.ResponseWriter, r *http.Request) {
	u, ok := s.lookup(w, r, "get_role_mappings")
	if !ok {
		return
	}
	s.mu.Lock()
	reps := make([]roleRep, 0, len(u.Roles))
	for _, name := range u.Roles {
		reps = append(reps, roleRep{ID: s.realmRoles[name], Name: name})
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, reps)
}

func (s *Server) handleAddMappings(w http.ResponseWriter, r *http.Request) {
	u, ok := s.lookup(w, r, "assign_role")
	if !ok {
		return
	}
	var reps []roleRep
	if err := json.NewDecoder(r.Body).Decode(&reps); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rep := range reps {
		if s.realmRoles[rep.Name] != rep.ID {
			w.WriteHeader(http.StatusNotFound)
			return
		}
	}
	for _, rep := range reps {
		if !contains(u.Roles, rep.Name) {
			u.Roles = append(u.Roles, rep.Name)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteMappings(w http.ResponseWriter, r *http.Request) {
	u, ok := s.lookup(w, r, "remove_role")
	if !ok {
		return
	}
	var reps []roleRep
	if err := json.NewDecoder(r.Body).Decode(&reps); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := u.Roles[:0]
	for _, name := range u.Roles {
		drop := false
		for _, rep := range reps {
			if rep.Name == name {
				drop = true
			}
		}
		if !drop {
			kept = append(kept, name)
		}
	}
	u.Roles = kept
	w.WriteHeader(http.StatusNoContent)
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func oauthError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code, "error_description": code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
