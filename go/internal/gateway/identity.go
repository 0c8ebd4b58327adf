package gateway

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrMalformed     = errors.New("malformed intent")
	ErrUnknownIntent = errors.New("unknown intent")
)

// identityNamespace scopes device-derived player ids.
var identityNamespace = uuid.MustParse("6f1c2a8e-3d4b-5e6f-9a0b-1c2d3e4f5a6b")

const maxNameLen = 32

// IdentityFor maps a client device label to a stable player id, so the same
// device reconnects as the same player. An empty label gets a fresh id.
func IdentityFor(device string) string {
	device = strings.TrimSpace(device)
	if device == "" {
		return uuid.NewString()
	}
	return uuid.NewSHA1(identityNamespace, []byte(device)).String()
}

// cleanName trims a display name and falls back when it is empty.
func cleanName(name, fallback string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return fallback
	}
	if r := []rune(name); len(r) > maxNameLen {
		name = string(r[:maxNameLen])
	}
	return name
}
