package auth

import (
	"encoding/json"
	"fmt"
)

// Identity is the user profile returned by the gov.br userinfo endpoint.
// Field names follow the OpenID Connect standard claims.
type Identity struct {
	Subject             string `json:"sub"`
	Name                string `json:"name"`
	Profile             string `json:"profile"`
	Picture             string `json:"picture"`
	Email               string `json:"email"`
	EmailVerified       bool   `json:"email_verified"`
	PhoneNumber         string `json:"phone_number"`
	PhoneNumberVerified bool   `json:"phone_number_verified"`
}

// parseIdentity decodes a JSON identity and checks that it names a subject.
func parseIdentity(data []byte) (*Identity, error) {
	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, err
	}
	if id.Subject == "" {
		return nil, fmt.Errorf("identity has no sub claim")
	}
	return &id, nil
}
