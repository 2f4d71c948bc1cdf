package validators

import "strings"

// BearerToken extracts the token from an Authorization header value. ok is
// false when the header is empty or uses another scheme.
func BearerToken(header string) (token string, ok bool) {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", false
	}
	token = strings.TrimSpace(header[7:])
	return token, token != ""
}
