package utils

import (
	"errors"
	"regexp"
	"strings"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9_]{2,20}$`)

// ErrInvalidUsername is returned for names outside the allowed charset.
var ErrInvalidUsername = errors.New("username must be 2-20 characters of a-z, 0-9 or _")

// NormalizeUsername lowercases and trims a username and validates it against
// the allowed charset. All persisted rows key on the normalized form.
func NormalizeUsername(raw string) (string, error) {
	username := strings.ToLower(strings.TrimSpace(raw))
	if !usernamePattern.MatchString(username) {
		return "", ErrInvalidUsername
	}
	return username, nil
}
