package client

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

var ErrInvalidToken = errors.New("invalid session token")

// UserIDFromToken checks that token looks like a JWT whose payload carries
// user.id and returns that id. The signature is left to the server.
func UserIDFromToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidToken
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", ErrInvalidToken
	}

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return "", ErrInvalidToken
	}

	var payload struct {
		User *struct {
			ID json.RawMessage `json:"id"`
		} `json:"user"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", ErrInvalidToken
	}
	if payload.User == nil || len(payload.User.ID) == 0 {
		return "", ErrInvalidToken
	}

	id := strings.Trim(string(payload.User.ID), `"`)
	if id == "" || id == "null" {
		return "", ErrInvalidToken
	}
	return id, nil
}
