package keycloak

import (
	"errors"
	"fmt"
	"net/http"

	pkgerrors "github.com/angelmondragon/storefront-user-service/pkg/errors"
)

// Failure kinds for identity-provider calls.
var (
	ErrUnavailable  = errors.New("identity provider unavailable")
	ErrConflict     = errors.New("identity already exists")
	ErrNotFound     = errors.New("identity not found")
	ErrRejected     = errors.New("identity provider rejected request")
	ErrUnauthorized = errors.New("identity provider credential rejected")
	// ErrInvalidGrant covers bad user credentials and dead refresh tokens.
	ErrInvalidGrant = errors.New("invalid grant")
	// ErrPartialRoleUpdate is matched by *PartialRoleUpdateError.
	ErrPartialRoleUpdate = errors.New("partial role update")
)

// Error describes a failed identity-provider call.
type Error struct {
	Op     string
	Status int
	Kind   error
	Body   string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("keycloak %s: %s", e.Op, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// kindForStatus maps an admin API status onto a failure kind.
func kindForStatus(status int) error {
	switch {
	case status == http.StatusConflict:
		return ErrConflict
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ErrUnauthorized
	case status >= 500:
		return ErrUnavailable
	case status >= 400:
		return ErrRejected
	default:
		return ErrUnavailable
	}
}

// PartialRoleUpdateError reports a role replacement that removed the old
// managed roles but failed to add the new one. The user may hold no managed
// role until the caller retries.
type PartialRoleUpdateError struct {
	SubjectID string
	Removed   []string
	Target    string
	Err       error
}

func (e *PartialRoleUpdateError) Error() string {
	return fmt.Sprintf("replace role for %s: removed %v but failed to add %q: %v", e.SubjectID, e.Removed, e.Target, e.Err)
}

func (e *PartialRoleUpdateError) Unwrap() []error {
	return []error{ErrPartialRoleUpdate, e.Err}
}

// Translate maps an identity-provider failure onto an application error code.
// action names the attempted operation in the wrapped message.
func Translate(err error, action string) error {
	if err == nil {
		return nil
	}
	var partial *PartialRoleUpdateError
	switch {
	case errors.As(err, &partial):
		return pkgerrors.Wrap(pkgerrors.CodePartialRoleUpdate, err, "role update partially applied; retry the role change").
			WithDetails(map[string]any{"removed": partial.Removed, "target": partial.Target})
	case errors.Is(err, ErrConflict):
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "user already exists")
	case errors.Is(err, ErrNotFound):
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "user not found")
	case errors.Is(err, ErrRejected):
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, action+" rejected by identity provider")
	case errors.Is(err, ErrInvalidGrant):
		return pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid credentials")
	default:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, action+" failed: identity provider unavailable")
	}
}
