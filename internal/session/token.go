package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoToken is returned when a snapshot holds no bearer token.
var ErrNoToken = errors.New("no token in session")

// TokenInfo describes a stored bearer token. Claims are only present for
// JWTs and are NOT verified; they are informational.
type TokenInfo struct {
	Key       string         `json:"key"`
	JWT       bool           `json:"jwt"`
	Claims    map[string]any `json:"claims,omitempty"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	Expired   bool           `json:"expired"`
}

// InspectToken looks up the bearer token in snapshot and decodes its claims
// when it is a JWT.
func InspectToken(snapshot map[string]any, now time.Time) (*TokenInfo, error) {
	var info TokenInfo
	var token string
	for _, key := range TokenKeys {
		if s, ok := snapshot[key].(string); ok && s != "" {
			info.Key, token = key, s
			break
		}
	}
	if token == "" {
		return nil, ErrNoToken
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		// Opaque tokens are fine.
		return &info, nil
	}
	info.JWT = true
	info.Claims = claims
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("invalid exp claim: %w", err)
	}
	if exp != nil {
		t := exp.Time
		info.ExpiresAt = &t
		info.Expired = now.After(t)
	}
	return &info, nil
}
