package session

// Keys of the persisted session entries.
const (
	AccessTokenKey  = "accessToken"
	RefreshTokenKey = "refreshToken"
	ProfileKey      = "user"
)

// LoadingState describes what the session controller is doing.
type LoadingState int

const (
	// Initializing lasts until the persisted session has been read.
	Initializing LoadingState = iota
	// Idle means no auth request is pending.
	Idle
	// AuthenticatingRequest means a login or logout exchange is in flight.
	AuthenticatingRequest
)

func (state LoadingState) String() string {
	switch state {
	case Initializing:
		return "initializing"
	case Idle:
		return "idle"
	case AuthenticatingRequest:
		return "authenticating"
	default:
		return "unknown"
	}
}

// Session is the process-wide authentication state.
type Session struct {
	AccessToken  string
	RefreshToken string
	Profile      *Profile
}

// IsAuthenticated reports token presence only; it never implies a verified profile.
func (current Session) IsAuthenticated() bool {
	return current.AccessToken != ""
}

// HasTokenPair reports whether both tokens are present.
func (current Session) HasTokenPair() bool {
	return current.AccessToken != "" && current.RefreshToken != ""
}

// IsEmpty reports whether nothing is stored.
func (current Session) IsEmpty() bool {
	return current.AccessToken == "" && current.RefreshToken == "" && current.Profile == nil
}

func (current Session) clone() Session {
	current.Profile = current.Profile.Clone()
	return current
}

type fieldState uint8

const (
	fieldUnchanged fieldState = iota
	fieldAssigned
	fieldCleared
)

// Field is a tri-state update value: the zero value leaves the persisted entry
// untouched, Assign overwrites it and Clear removes it.
type Field[T any] struct {
	state fieldState
	value T
}

// Assign returns a field that overwrites the entry with value.
func Assign[T any](value T) Field[T] {
	return Field[T]{state: fieldAssigned, value: value}
}

// Clear returns a field that removes the entry.
func Clear[T any]() Field[T] {
	return Field[T]{state: fieldCleared}
}

// IsSet reports whether the field changes the entry.
func (field Field[T]) IsSet() bool {
	return field.state != fieldUnchanged
}

// Value returns the assigned value and whether one was assigned.
func (field Field[T]) Value() (T, bool) {
	return field.value, field.state == fieldAssigned
}

// Update describes a partial write of the session.
type Update struct {
	AccessToken  Field[string]
	RefreshToken Field[string]
	Profile      Field[*Profile]
}

// UpdateFromSession builds an update that writes every field of the session,
// clearing the ones that are empty.
func UpdateFromSession(current Session) Update {
	return Update{
		AccessToken:  stringField(current.AccessToken),
		RefreshToken: stringField(current.RefreshToken),
		Profile:      profileField(current.Profile),
	}
}

func stringField(value string) Field[string] {
	if value == "" {
		return Clear[string]()
	}
	return Assign(value)
}

func profileField(profile *Profile) Field[*Profile] {
	if profile == nil {
		return Clear[*Profile]()
	}
	return Assign(profile)
}

func applyString(current string, field Field[string]) string {
	switch field.state {
	case fieldAssigned:
		return field.value
	case fieldCleared:
		return ""
	default:
		return current
	}
}

func applyProfile(current *Profile, field Field[*Profile]) *Profile {
	switch field.state {
	case fieldAssigned:
		return field.value.Clone()
	case fieldCleared:
		return nil
	default:
		return current
	}
}
