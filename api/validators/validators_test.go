package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	pkgerrors "github.com/angelmondragon/storefront-user-service/pkg/errors"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type signup struct {
	Username string  `json:"username" validate:"required,min=3"`
	Email    string  `json:"email" validate:"required,email"`
	Role     *string `json:"role" validate:"omitempty,oneof=customer seller"`
}

func TestDecodeJSONBodyReportsFieldsByJSONName(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"username":"al","email":"nope","role":"root"}`))
	var body signup
	err := DecodeJSONBody(req, &body)
	require.Error(t, err)

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "must be at least 3 characters", details["username"])
	assert.Equal(t, "must be a valid email", details["email"])
	assert.Equal(t, "must be one of: customer seller", details["role"])
}

func TestDecodeJSONBodyRejectsUnknownAndEmpty(t *testing.T) {
	var body signup
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"username":"alice","email":"a@b.co","admin":true}`))
	assert.True(t, pkgerrors.IsCode(DecodeJSONBody(req, &body), pkgerrors.CodeValidation))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(``))
	err := DecodeJSONBody(req, &body)
	require.Error(t, err)
	assert.Equal(t, "request body is required", pkgerrors.As(err).Message())
}

func TestParsePage(t *testing.T) {
	p, err := ParsePage(httptest.NewRequest(http.MethodGet, "/users", nil))
	require.NoError(t, err)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 10, p.Limit)

	p, err = ParsePage(httptest.NewRequest(http.MethodGet, "/users?page=3&limit=25", nil))
	require.NoError(t, err)
	assert.Equal(t, 3, p.Page)
	assert.Equal(t, 25, p.Limit)

	_, err = ParsePage(httptest.NewRequest(http.MethodGet, "/users?limit=500", nil))
	assert.Error(t, err)
	_, err = ParsePage(httptest.NewRequest(http.MethodGet, "/users?page=abc", nil))
	assert.Error(t, err)
}

func TestParseSearchTrims(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/users?search=%20%20ann%20", nil)
	assert.Equal(t, "ann", ParseSearch(req))
}

func TestPathUUID(t *testing.T) {
	r := chi.NewRouter()
	var parseErr error
	r.Get("/users/{id}", func(w http.ResponseWriter, req *http.Request) {
		_, parseErr = PathUUID(req, "id")
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/users/not-a-uuid", nil))
	assert.True(t, pkgerrors.IsCode(parseErr, pkgerrors.CodeValidation))

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/users/6f1c5a0e-2b59-4d43-9a3e-0f6a3c1b2d4e", nil))
	assert.NoError(t, parseErr)
}

func TestBearerToken(t *testing.T) {
	tok, ok := BearerToken("Bearer abc.def")
	assert.True(t, ok)
	assert.Equal(t, "abc.def", tok)

	tok, ok = BearerToken("bearer   xyz ")
	assert.True(t, ok)
	assert.Equal(t, "xyz", tok)

	for _, h := range []string{"", "Bearer ", "Basic dXNlcjpwdw==", "abc"} {
		_, ok = BearerToken(h)
		assert.False(t, ok, h)
	}
}
