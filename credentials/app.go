package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

var (
	ErrorUserNotFound  = errors.New("user not found")
	ErrorAuthenticator = errors.New("authentication failed")
)

type UserState int

const (
	UserLoggedOut UserState = iota
	UserLoggedIn
	UserRemoved
)

func (s UserState) String() string {
	switch s {
	case UserLoggedOut:
		return "logged out"
	case UserLoggedIn:
		return "logged in"
	case UserRemoved:
		return "removed"
	}
	return fmt.Sprintf("user state(%d)", int(s))
}

type User struct {
	ID       string
	AppID    string
	Provider Provider
	// Profile is whatever the authenticator returned about the user.
	Profile map[string]any

	state UserState
}

func (u *User) State() UserState {
	return u.state
}

// Authenticator exchanges credentials for a user. It is the only component
// that reads the payload.
type Authenticator interface {
	Authenticate(ctx context.Context, appID string, c Credentials) (*User, error)
}

type AuthenticatorFunc func(ctx context.Context, appID string, c Credentials) (*User, error)

func (f AuthenticatorFunc) Authenticate(ctx context.Context, appID string, c Credentials) (*User, error) {
	return f(ctx, appID, c)
}

// App keeps the users logged in to one application. The most recent login is
// the current user.
type App struct {
	ID string

	auth Authenticator
	log  log.FieldLogger

	mu      sync.Mutex
	users   []*User
	current *User
}

func NewApp(id string, auth Authenticator) *App {
	return &App{
		ID:   id,
		auth: auth,
		log:  log.WithField("app", id),
	}
}

// Login forwards c to the authenticator and makes the user current. Logging
// in again as a known user reuses it.
func (a *App) Login(ctx context.Context, c Credentials) (*User, error) {

	authenticated, err := a.authenticate(ctx, c)
	if err != nil {
		a.log.WithFields(log.Fields{
			"provider": c.Provider(),
			"error":    err.Error(),
		}).Warn("login failed")
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	user := a.find(authenticated.ID)
	if user == nil {
		user = &User{ID: authenticated.ID}
		a.users = append(a.users, user)
	}
	user.AppID = a.ID
	user.Provider = c.Provider()
	user.Profile = authenticated.Profile
	user.state = UserLoggedIn
	a.current = user

	a.log.WithFields(log.Fields{
		"provider": user.Provider,
		"user":     user.ID,
	}).Info("login")

	return user, nil
}

// Verify forwards c to the authenticator and returns the user it stands
// for, without logging it in: the users of the App and the current one are
// left as they are. It suits per-request authentication.
func (a *App) Verify(ctx context.Context, c Credentials) (*User, error) {

	authenticated, err := a.authenticate(ctx, c)
	if err != nil {
		a.log.WithFields(log.Fields{
			"provider": c.Provider(),
			"error":    err.Error(),
		}).Debug("verify failed")
		return nil, err
	}

	return &User{
		ID:       authenticated.ID,
		AppID:    a.ID,
		Provider: c.Provider(),
		Profile:  authenticated.Profile,
		state:    UserLoggedIn,
	}, nil
}

func (a *App) authenticate(ctx context.Context, c Credentials) (*User, error) {
	authenticated, err := a.auth.Authenticate(ctx, a.ID, c)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrorAuthenticator, c.Provider(), err)
	}
	if authenticated == nil || authenticated.ID == "" {
		return nil, fmt.Errorf("%w: %s: no user returned", ErrorAuthenticator, c.Provider())
	}
	return authenticated, nil
}

func (a *App) find(id string) *User {
	for _, u := range a.users {
		if u.ID == id {
			return u
		}
	}
	return nil
}

func (a *App) Logout(user *User) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	u := a.find(user.ID)
	if u == nil || u.state == UserRemoved {
		return fmt.Errorf("%w: '%s'", ErrorUserNotFound, user.ID)
	}
	u.state = UserLoggedOut
	if a.current == u {
		a.current = a.lastLoggedIn()
	}
	a.log.WithField("user", u.ID).Info("logout")
	return nil
}

// RemoveUser logs the user out and forgets it.
func (a *App) RemoveUser(user *User) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, u := range a.users {
		if u.ID != user.ID {
			continue
		}
		u.state = UserRemoved
		a.users = append(a.users[:i:i], a.users[i+1:]...)
		if a.current == u {
			a.current = a.lastLoggedIn()
		}
		return nil
	}
	return fmt.Errorf("%w: '%s'", ErrorUserNotFound, user.ID)
}

func (a *App) SwitchUser(user *User) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	u := a.find(user.ID)
	if u == nil || u.state != UserLoggedIn {
		return fmt.Errorf("%w: '%s' is not logged in", ErrorUserNotFound, user.ID)
	}
	a.current = u
	return nil
}

func (a *App) lastLoggedIn() *User {
	for i := len(a.users) - 1; i >= 0; i-- {
		if a.users[i].state == UserLoggedIn {
			return a.users[i]
		}
	}
	return nil
}

// CurrentUser is nil when nobody is logged in.
func (a *App) CurrentUser() *User {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// Users returns the known users in login order.
func (a *App) Users() []*User {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*User(nil), a.users...)
}
