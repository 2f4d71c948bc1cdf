package keycloak

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/angelmondragon/storefront-user-service/pkg/config"
	"github.com/angelmondragon/storefront-user-service/pkg/enums"
)

const defaultPageSize = 100

// Credential supplies admin bearer tokens.
type Credential interface {
	Token(ctx context.Context) (string, error)
	Renew(ctx context.Context) (string, error)
	Invalidate(rejected string)
}

// User is the admin API user representation this service reads.
type User struct {
	ID               string `json:"id,omitempty"`
	Username         string `json:"username"`
	Email            string `json:"email,omitempty"`
	FirstName        string `json:"firstName,omitempty"`
	LastName         string `json:"lastName,omitempty"`
	Enabled          bool   `json:"enabled"`
	EmailVerified    bool   `json:"emailVerified"`
	CreatedTimestamp int64  `json:"createdTimestamp,omitempty"`
}

// NewUser carries the fields needed to create an identity.
type NewUser struct {
	Username  string
	Email     string
	FirstName string
	LastName  string
	Password  string
	Role      enums.Role
}

// UserUpdate lists the fields to change; nil fields are left as they are.
type UserUpdate struct {
	Username  *string `json:"username,omitempty"`
	Email     *string `json:"email,omitempty"`
	FirstName *string `json:"firstName,omitempty"`
	LastName  *string `json:"lastName,omitempty"`
	Enabled   *bool   `json:"enabled,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u UserUpdate) Empty() bool {
	return u.Username == nil && u.Email == nil && u.FirstName == nil && u.LastName == nil && u.Enabled == nil
}

type roleRepresentation struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Composite   bool   `json:"composite"`
	ClientRole  bool   `json:"clientRole"`
	ContainerID string `json:"containerId,omitempty"`
}

type credentialRepresentation struct {
	Type      string `json:"type"`
	Value     string `json:"value"`
	Temporary bool   `json:"temporary"`
}

type createUserRepresentation struct {
	Username      string                     `json:"username"`
	Email         string                     `json:"email"`
	FirstName     string                     `json:"firstName,omitempty"`
	LastName      string                     `json:"lastName,omitempty"`
	Enabled       bool                       `json:"enabled"`
	EmailVerified bool                       `json:"emailVerified"`
	Credentials   []credentialRepresentation `json:"credentials"`
	RealmRoles    []string                   `json:"realmRoles,omitempty"`
}

// AdminClient performs privileged operations on the application realm.
type AdminClient struct {
	settings
	baseURL  string
	cred     Credential
	pageSize int
}

// NewAdminClient builds an admin API client using cred for authorization.
func NewAdminClient(cfg config.KeycloakConfig, cred Credential, pageSize int, opts ...Option) (*AdminClient, error) {
	if err := validateBase(cfg); err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, fmt.Errorf("admin credential is required")
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &AdminClient{
		settings: newSettings(cfg, opts),
		baseURL:  fmt.Sprintf("%s/admin/realms/%s", strings.TrimRight(cfg.URL, "/"), url.PathEscape(cfg.Realm)),
		cred:     cred,
		pageSize: pageSize,
	}, nil
}

// BeginBatch re-acquires the admin credential ahead of a run of privileged calls.
func (c *AdminClient) BeginBatch(ctx context.Context) error {
	_, err := c.cred.Renew(ctx)
	return err
}

// CreateUser creates an enabled identity with a permanent password and
// returns its subject id.
func (c *AdminClient) CreateUser(ctx context.Context, u NewUser) (string, error) {
	rep := createUserRepresentation{
		Username:      u.Username,
		Email:         u.Email,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Enabled:       true,
		EmailVerified: false,
		Credentials:   []credentialRepresentation{{Type: "password", Value: u.Password}},
	}
	if u.Role != "" {
		rep.RealmRoles = []string{u.Role.String()}
	}
	header, err := c.do(ctx, adminCall{op: "create_user", method: http.MethodPost, path: "/users", body: rep})
	if err != nil {
		return "", err
	}
	location := header.Get("Location")
	id := path.Base(strings.TrimRight(location, "/"))
	if location == "" || id == "." || id == "/" {
		return "", &Error{Op: "create_user", Kind: ErrUnavailable, Err: fmt.Errorf("missing location header")}
	}
	return id, nil
}

// GetUser fetches one identity by subject id.
func (c *AdminClient) GetUser(ctx context.Context, subjectID string) (*User, error) {
	var out User
	if _, err := c.do(ctx, adminCall{op: "get_user", method: http.MethodGet, path: userPath(subjectID), out: &out}); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateUser applies the non-nil fields of upd.
func (c *AdminClient) UpdateUser(ctx context.Context, subjectID string, upd UserUpdate) error {
	if upd.Empty() {
		return nil
	}
	_, err := c.do(ctx, adminCall{op: "update_user", method: http.MethodPut, path: userPath(subjectID), body: upd})
	return err
}

// DeleteUser removes the identity and its sessions.
func (c *AdminClient) DeleteUser(ctx context.Context, subjectID string) error {
	_, err := c.do(ctx, adminCall{op: "delete_user", method: http.MethodDelete, path: userPath(subjectID)})
	return err
}

// ListUsers returns one page of users starting at first.
func (c *AdminClient) ListUsers(ctx context.Context, first, limit int) ([]User, error) {
	query := url.Values{}
	query.Set("first", strconv.Itoa(first))
	query.Set("max", strconv.Itoa(limit))
	query.Set("briefRepresentation", "false")
	var out []User
	if _, err := c.do(ctx, adminCall{op: "list_users", method: http.MethodGet, path: "/users", query: query, out: &out}); err != nil {
		return nil, err
	}
	return out, nil
}

// ListAllUsers pages through every user in the realm.
func (c *AdminClient) ListAllUsers(ctx context.Context) ([]User, error) {
	all := []User{}
	for first := 0; ; first += c.pageSize {
		page, err := c.ListUsers(ctx, first, c.pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < c.pageSize {
			return all, nil
		}
	}
}

// GetRoleMappings returns the realm role names directly mapped to the user.
func (c *AdminClient) GetRoleMappings(ctx context.Context, subjectID string) ([]string, error) {
	reps, err := c.roleMappings(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(reps))
	for _, rep := range reps {
		names = append(names, rep.Name)
	}
	return names, nil
}

// AssignRole maps a managed realm role to the user.
func (c *AdminClient) AssignRole(ctx context.Context, subjectID string, role enums.Role) error {
	if !role.IsValid() {
		return &Error{Op: "assign_role", Kind: ErrRejected, Err: fmt.Errorf("role %q is not managed", role)}
	}
	var rep roleRepresentation
	if _, err := c.do(ctx, adminCall{op: "get_role", method: http.MethodGet, path: "/roles/" + url.PathEscape(role.String()), out: &rep}); err != nil {
		return err
	}
	_, err := c.do(ctx, adminCall{
		op:     "assign_role",
		method: http.MethodPost,
		path:   userPath(subjectID) + "/role-mappings/realm",
		body:   []roleRepresentation{rep},
	})
	return err
}

// RemoveRole unmaps a managed realm role. Removing a role the user does not
// hold is a no-op.
func (c *AdminClient) RemoveRole(ctx context.Context, subjectID string, role enums.Role) error {
	if !role.IsValid() {
		return &Error{Op: "remove_role", Kind: ErrRejected, Err: fmt.Errorf("role %q is not managed", role)}
	}
	reps, err := c.roleMappings(ctx, subjectID)
	if err != nil {
		return err
	}
	targets := filterRoles(reps, []enums.Role{role})
	if len(targets) == 0 {
		return nil
	}
	return c.deleteMappings(ctx, "remove_role", subjectID, targets)
}

// ReplaceRole removes oldRoles then adds newRole. The two steps are separate
// calls; when the add fails after a removal a *PartialRoleUpdateError is returned.
// A nil oldRoles removes every managed role except newRole.
func (c *AdminClient) ReplaceRole(ctx context.Context, subjectID string, oldRoles []enums.Role, newRole enums.Role) error {
	if !newRole.IsValid() {
		return &Error{Op: "replace_role", Kind: ErrRejected, Err: fmt.Errorf("role %q is not managed", newRole)}
	}
	if oldRoles == nil {
		oldRoles = enums.ManagedRoles()
	}
	removable := make([]enums.Role, 0, len(oldRoles))
	for _, r := range oldRoles {
		if r.IsValid() && r != newRole {
			removable = append(removable, r)
		}
	}

	reps, err := c.roleMappings(ctx, subjectID)
	if err != nil {
		return err
	}
	toRemove := filterRoles(reps, removable)
	held := slices.ContainsFunc(reps, func(rep roleRepresentation) bool { return rep.Name == newRole.String() })

	if len(toRemove) > 0 {
		if err := c.deleteMappings(ctx, "replace_role", subjectID, toRemove); err != nil {
			return err
		}
	}
	if held {
		return nil
	}
	if err := c.AssignRole(ctx, subjectID, newRole); err != nil {
		if len(toRemove) == 0 {
			return err
		}
		removed := make([]string, 0, len(toRemove))
		for _, rep := range toRemove {
			removed = append(removed, rep.Name)
		}
		return &PartialRoleUpdateError{SubjectID: subjectID, Removed: removed, Target: newRole.String(), Err: err}
	}
	return nil
}

func (c *AdminClient) roleMappings(ctx context.Context, subjectID string) ([]roleRepresentation, error) {
	var reps []roleRepresentation
	if _, err := c.do(ctx, adminCall{op: "get_role_mappings", method: http.MethodGet, path: userPath(subjectID) + "/role-mappings/realm", out: &reps}); err != nil {
		return nil, err
	}
	return reps, nil
}

func (c *AdminClient) deleteMappings(ctx context.Context, op, subjectID string, reps []roleRepresentation) error {
	_, err := c.do(ctx, adminCall{op: op, method: http.MethodDelete, path: userPath(subjectID) + "/role-mappings/realm", body: reps})
	return err
}

func filterRoles(reps []roleRepresentation, roles []enums.Role) []roleRepresentation {
	out := []roleRepresentation{}
	for _, rep := range reps {
		if slices.Contains(roles, enums.Role(rep.Name)) {
			out = append(out, rep)
		}
	}
	return out
}

func userPath(subjectID string) string {
	return "/users/" + url.PathEscape(subjectID)
}

type adminCall struct {
	op     string
	method string
	path   string
	query  url.Values
	body   any
	out    any
}

// do runs call with the cached credential, re-acquiring it once on 401.
func (c *AdminClient) do(ctx context.Context, call adminCall) (header http.Header, err error) {
	start := c.now()
	defer func() { c.observe(call.op, start, err) }()

	token, err := c.cred.Token(ctx)
	if err != nil {
		return nil, err
	}
	header, status, err := c.roundTrip(ctx, call, token)
	if status != http.StatusUnauthorized {
		return header, err
	}

	c.cred.Invalidate(token)
	token, err = c.cred.Token(ctx)
	if err != nil {
		return nil, err
	}
	header, _, err = c.roundTrip(ctx, call, token)
	return header, err
}

func (c *AdminClient) roundTrip(ctx context.Context, call adminCall, token string) (http.Header, int, error) {
	endpoint := c.baseURL + call.path
	if len(call.query) > 0 {
		endpoint += "?" + call.query.Encode()
	}

	var body io.Reader
	if call.body != nil {
		payload, err := json.Marshal(call.body)
		if err != nil {
			return nil, 0, &Error{Op: call.op, Kind: ErrRejected, Err: fmt.Errorf("marshal request: %w", err)}
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, call.method, endpoint, body)
	if err != nil {
		return nil, 0, &Error{Op: call.op, Kind: ErrUnavailable, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if call.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, &Error{Op: call.op, Kind: ErrUnavailable, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return resp.Header, resp.StatusCode, &Error{
			Op:     call.op,
			Status: resp.StatusCode,
			Kind:   kindForStatus(resp.StatusCode),
			Body:   strings.TrimSpace(string(msg)),
		}
	}
	if call.out != nil {
		if err := json.NewDecoder(resp.Body).Decode(call.out); err != nil {
			return resp.Header, resp.StatusCode, &Error{Op: call.op, Status: resp.StatusCode, Kind: ErrUnavailable, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return resp.Header, resp.StatusCode, nil
}
