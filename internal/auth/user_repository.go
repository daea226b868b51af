package auth

import "errors"

// UserRepository defines operations for user persistence and retrieval.
// The backend (memory, MariaDB, MongoDB) is selected by configuration; the
// rest of the code depends only on this interface.
type UserRepository interface {
	// GetUserByUsername returns a user by username (case-insensitive). If the
	// user is not found, (nil, ErrUserNotFound) is returned.
	GetUserByUsername(username string) (*User, error)

	// GetUserByID returns a user by ID, or (nil, ErrUserNotFound).
	GetUserByID(id uint64) (*User, error)

	// CreateUser creates a new user with the supplied data and returns the
	// stored user instance. Caller is expected to pass a bcrypt-hashed
	// password. Implementations must enforce unique usernames and return
	// ErrUserExists on conflict.
	CreateUser(username string, passwordHash string, isAdmin bool) (*User, error)

	// ValidateCredentials validates username and password, returns the user
	// on success and ErrInvalidCredentials otherwise.
	ValidateCredentials(username, password string) (*User, error)
}

// Domain-level errors returned by the repository and the authenticator.
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrGuestsDisabled     = errors.New("guest access disabled")
)
