package mockauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// User store errors.
var (
	ErrInvalidCredentials  = errors.New("mockauth.users.invalid_credentials")
	ErrUserExists          = errors.New("mockauth.users.exists")
	ErrUserNotFound        = errors.New("mockauth.users.not_found")
	ErrInvalidRegistration = errors.New("mockauth.users.invalid_registration")
)

const defaultUserRole = "staff"

type userRecord struct {
	account      Account
	passwordHash []byte
}

// InMemoryUsers keeps bcrypt-hashed accounts in memory.
type InMemoryUsers struct {
	mutex      sync.RWMutex
	byID       map[string]*userRecord
	byUsername map[string]*userRecord
	cost       int
}

// UsersOption customises InMemoryUsers.
type UsersOption func(*InMemoryUsers)

// WithBcryptCost overrides the hashing cost.
func WithBcryptCost(cost int) UsersOption {
	return func(users *InMemoryUsers) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			users.cost = cost
		}
	}
}

// NewInMemoryUsers constructs an empty user store.
func NewInMemoryUsers(options ...UsersOption) *InMemoryUsers {
	users := &InMemoryUsers{
		byID:       make(map[string]*userRecord),
		byUsername: make(map[string]*userRecord),
		cost:       bcrypt.DefaultCost,
	}
	for _, option := range options {
		option(users)
	}
	return users
}

// Register creates an account with the default role.
func (users *InMemoryUsers) Register(ctx context.Context, registration Registration) (Account, error) {
	return users.register(registration, []string{defaultUserRole})
}

// Seed creates an account with explicit roles.
func (users *InMemoryUsers) Seed(registration Registration, roles ...string) (Account, error) {
	if len(roles) == 0 {
		roles = []string{defaultUserRole}
	}
	return users.register(registration, roles)
}

func (users *InMemoryUsers) register(registration Registration, roles []string) (Account, error) {
	username := normalizeUsername(registration.Username)
	if username == "" || registration.Password == "" {
		return Account{}, fmt.Errorf("mockauth.users.register: %w", ErrInvalidRegistration)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(registration.Password), users.cost)
	if err != nil {
		return Account{}, fmt.Errorf("mockauth.users.register.hash: %w", err)
	}
	displayName := strings.TrimSpace(registration.DisplayName)
	if displayName == "" {
		displayName = username
	}

	users.mutex.Lock()
	defer users.mutex.Unlock()
	if _, exists := users.byUsername[username]; exists {
		return Account{}, fmt.Errorf("mockauth.users.register: %w", ErrUserExists)
	}
	record := &userRecord{
		account: Account{
			ID:          uuid.NewString(),
			Username:    username,
			DisplayName: displayName,
			Email:       strings.TrimSpace(registration.Email),
			Roles:       append([]string(nil), roles...),
		},
		passwordHash: hash,
	}
	users.byID[record.account.ID] = record
	users.byUsername[username] = record
	return cloneAccount(record.account), nil
}

// Authenticate verifies a username and password pair.
func (users *InMemoryUsers) Authenticate(ctx context.Context, username string, password string) (Account, error) {
	users.mutex.RLock()
	record, exists := users.byUsername[normalizeUsername(username)]
	users.mutex.RUnlock()
	if !exists {
		return Account{}, fmt.Errorf("mockauth.users.authenticate: %w", ErrInvalidCredentials)
	}
	if err := bcrypt.CompareHashAndPassword(record.passwordHash, []byte(password)); err != nil {
		return Account{}, fmt.Errorf("mockauth.users.authenticate: %w", ErrInvalidCredentials)
	}
	return cloneAccount(record.account), nil
}

// GetAccount returns the account for applicationUserID.
func (users *InMemoryUsers) GetAccount(ctx context.Context, applicationUserID string) (Account, error) {
	users.mutex.RLock()
	defer users.mutex.RUnlock()
	record, exists := users.byID[applicationUserID]
	if !exists {
		return Account{}, fmt.Errorf("mockauth.users.get: %w", ErrUserNotFound)
	}
	return cloneAccount(record.account), nil
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func cloneAccount(account Account) Account {
	account.Roles = append([]string(nil), account.Roles...)
	return account
}
