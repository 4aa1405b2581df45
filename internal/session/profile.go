package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ProfileID identifies an account. The auth service may encode it as a JSON
// string or number; both decode into the same textual form.
type ProfileID string

// UnmarshalJSON accepts quoted and bare numeric identifiers.
func (identifier *ProfileID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*identifier = ""
		return nil
	}
	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return fmt.Errorf("session.profile.id: %w", err)
		}
		*identifier = ProfileID(text)
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(trimmed, &number); err != nil {
		return fmt.Errorf("session.profile.id: %w", err)
	}
	*identifier = ProfileID(number.String())
	return nil
}

// Profile is the cached identity record returned by the auth service.
type Profile struct {
	ID          ProfileID `json:"id"`
	DisplayName string    `json:"name"`
	Email       string    `json:"email,omitempty"`
	Roles       []string  `json:"roles,omitempty"`
}

// HasRole reports whether the profile carries the role, ignoring case.
func (profile *Profile) HasRole(role string) bool {
	if profile == nil {
		return false
	}
	for _, candidate := range profile.Roles {
		if strings.EqualFold(candidate, role) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so readers never share the controller's record.
func (profile *Profile) Clone() *Profile {
	if profile == nil {
		return nil
	}
	cloned := *profile
	if profile.Roles != nil {
		cloned.Roles = append([]string(nil), profile.Roles...)
	}
	return &cloned
}

func encodeProfile(profile *Profile) (string, error) {
	encoded, err := json.Marshal(profile)
	if err != nil {
		return "", fmt.Errorf("session.profile.encode: %w", err)
	}
	return string(encoded), nil
}

func decodeProfile(raw string) (*Profile, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("session.profile.decode: %w", ErrMalformedCache)
	}
	var profile Profile
	if err := json.Unmarshal([]byte(raw), &profile); err != nil {
		return nil, fmt.Errorf("session.profile.decode: %w: %v", ErrMalformedCache, err)
	}
	return &profile, nil
}
