package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/burenotti/healthlog/internal/domain"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrUserExists          = errors.New("user already exists")
	ErrDeviceExists        = errors.New("device already exists")
	ErrAuthorizationExists = errors.New("authorization already exists")
	ErrUserLoginDuplicate  = fmt.Errorf("%w: login is not unique", ErrUserExists)
	ErrInvalidCredentials  = errors.New("login or password is invalid")
	ErrUnauthorized        = errors.New("unauthorized")
)

const (
	EventCreated  = "user.created"
	EventNewLogin = "user.login"
	EventLogout   = "user.logout"
)

const (
	RoleAdmin = "ROLE_ADMIN"
	RoleUser  = "ROLE_USER"
)

type Authorizer interface {
	Hash(password string) string
	Authorize(u *User, password string, dev Device) (*Authorization, error)
}

type Device struct {
	Browser   string `diff:"browser"`
	OS        string `diff:"os"`
	IPAddress string `diff:"ip_address"`
	Model     string `diff:"device_model"`
}

type Authorization struct {
	ID         string     `diff:"-"`
	Secret     string     `diff:"-"`
	CreatedAt  time.Time  `diff:"-"`
	ValidUntil time.Time  `diff:"-"`
	LogoutAt   *time.Time `diff:"logout_at"`
	Device     Device     `diff:"-"`
}

func (a *Authorization) IsActive() bool {
	return time.Now().Before(a.ValidUntil) && a.LogoutAt == nil
}

type User struct {
	domain.Aggregate `diff:"-"`
	UserID           int64            `diff:"-"`
	Login            string           `diff:"login"`
	PasswordHash     string           `diff:"password_hash"`
	Authorities      []string         `diff:"-"`
	CreatedAt        time.Time        `diff:"-"`
	UpdatedAt        time.Time        `diff:"-"`
	Authorizations   []*Authorization `diff:"-"`
}

func (u *User) GetAuthByID(authId string) *Authorization {
	for _, auth := range u.Authorizations {
		if auth.ID == authId {
			return auth
		}
	}
	return nil
}

func (u *User) GetAuthBySecret(secret string) *Authorization {
	for _, auth := range u.Authorizations {
		if auth.Secret == secret {
			return auth
		}
	}
	return nil
}

func (u *User) HasAuthority(authority string) bool {
	return slices.Contains(u.Authorities, authority)
}

func (u *User) Caller() Caller {
	return Caller{
		UserID:      u.UserID,
		Login:       u.Login,
		Authorities: slices.Clone(u.Authorities),
	}
}

func NewUser(
	login string,
	password string,
	authorities []string,
	hasher Authorizer,
) *User {
	now := time.Now().UTC()
	if len(authorities) == 0 {
		authorities = []string{RoleUser}
	}
	return &User{
		Aggregate:    domain.Aggregate{},
		Login:        strings.ToLower(login),
		PasswordHash: hasher.Hash(password),
		Authorities:  authorities,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// MarkCreated records the identity assigned by storage.
func (u *User) MarkCreated(userID int64) {
	u.UserID = userID
	u.PushEvent(&CreatedEvent{
		At:     u.CreatedAt,
		UserID: u.UserID,
		Login:  u.Login,
	})
}

func (u *User) Authorize(a Authorizer, password string, dev Device) (*Authorization, error) {
	auth, err := a.Authorize(u, password, dev)
	if err != nil {
		return nil, err
	}

	u.Authorizations = append(u.Authorizations, auth)

	u.PushEvent(&LoginEvent{
		At:     time.Now().UTC(),
		UserID: u.UserID,
		ID:     auth.ID,
		Device: auth.Device,
	})

	return auth, nil
}

func (u *User) Logout(authId string) error {
	auth := u.GetAuthByID(authId)

	if auth == nil {
		return fmt.Errorf("%w: provided identifier not found", ErrUnauthorized)
	}

	if auth.LogoutAt != nil {
		return fmt.Errorf("%w: authorization already closed", ErrUnauthorized)
	}

	now := time.Now().UTC()
	auth.LogoutAt = &now

	u.PushEvent(&LogoutEvent{
		At:     now,
		UserID: u.UserID,
		ID:     auth.ID,
	})

	return nil
}

// Caller is the identity of the user behind the current request.
type Caller struct {
	UserID      int64
	Login       string
	Authorities []string
}

func (c Caller) IsAdmin() bool {
	return slices.Contains(c.Authorities, RoleAdmin)
}

type CreatedEvent struct {
	At     time.Time `json:"published_at"`
	UserID int64     `json:"user_id"`
	Login  string    `json:"login"`
}

func (e *CreatedEvent) Type() string {
	return EventCreated
}

func (e *CreatedEvent) PublishedAt() time.Time {
	return e.At
}

type LoginEvent struct {
	At     time.Time `json:"published_at"`
	UserID int64     `json:"user_id"`
	ID     string    `json:"authorization_id"`
	Device Device    `json:"device"`
}

func (e *LoginEvent) Type() string {
	return EventNewLogin
}

func (e *LoginEvent) PublishedAt() time.Time {
	return e.At
}

type LogoutEvent struct {
	At     time.Time `json:"published_at"`
	UserID int64     `json:"user_id"`
	ID     string    `json:"authorization_id"`
}

func (e *LogoutEvent) Type() string {
	return EventLogout
}

func (e *LogoutEvent) PublishedAt() time.Time {
	return e.At
}
