package credentials

import (
	"context"
	"errors"
	"testing"

	. "github.com/fulldump/biff"
	"github.com/golang-jwt/jwt/v5"

	"github.com/fulldump/tightdb/dberr"
)

func TestProviders(t *testing.T) {

	AssertEqual(Anonymous().Provider(), ProviderAnonymous)
	AssertEqual(EmailPassword("ann@example.com", "secret").Provider(), ProviderEmailPassword)
	AssertEqual(APIKey("k").Provider(), ProviderAPIKey)
	AssertEqual(Apple("t").Provider(), ProviderApple)
	AssertEqual(Google("c").Provider(), ProviderGoogle)
	AssertEqual(Facebook("t").Provider(), ProviderFacebook)

	c := EmailPassword("ann@example.com", "secret")
	AssertEqual(c.String(), "credentials(email-password)")
}

func TestPayloadIsCopied(t *testing.T) {

	payload := map[string]any{"name": "Ann", "tags": []any{"a"}}
	c, err := Function(payload)
	AssertNil(err)

	payload["name"] = "Bob"
	payload["tags"].([]any)[0] = "b"
	AssertEqual(c.Payload()["name"], "Ann")
	AssertEqual(c.Payload()["tags"], []any{"a"})

	c.Payload()["name"] = "Carol"
	AssertEqual(c.Payload()["name"], "Ann")

	_, err = Function(map[string]any{"ch": make(chan int)})
	AssertTrue(errors.Is(err, dberr.ErrorEncoding))
}

func TestJWT(t *testing.T) {

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "ann"}).SignedString([]byte("secret"))
	AssertNil(err)

	c, err := JWT(token)
	AssertNil(err)
	AssertEqual(c.Provider(), ProviderJWT)
	AssertEqual(c.Payload()["token"], token)

	_, err = JWT("not-a-token")
	AssertTrue(errors.Is(err, dberr.ErrorEncoding))
}

func byEmail() Authenticator {
	return AuthenticatorFunc(func(ctx context.Context, appID string, c Credentials) (*User, error) {
		if c.Provider() != ProviderEmailPassword {
			return nil, errors.New("unsupported provider")
		}
		payload := c.Payload()
		if payload["password"] != "secret" {
			return nil, errors.New("wrong password")
		}
		email := payload["email"].(string)
		return &User{ID: email, Profile: map[string]any{"email": email}}, nil
	})
}

func loggedIn() (app *App, ann, bob *User) {
	app = NewApp("my-app", byEmail())
	ann, err := app.Login(context.Background(), EmailPassword("ann@example.com", "secret"))
	AssertNil(err)
	bob, err = app.Login(context.Background(), EmailPassword("bob@example.com", "secret"))
	AssertNil(err)
	return app, ann, bob
}

func TestLogin(t *testing.T) {

	app := NewApp("my-app", byEmail())
	AssertNil(app.CurrentUser())

	ann, err := app.Login(context.Background(), EmailPassword("ann@example.com", "secret"))
	AssertNil(err)
	AssertEqual(ann.AppID, "my-app")
	AssertEqual(ann.Provider, ProviderEmailPassword)
	AssertEqual(ann.State(), UserLoggedIn)
	AssertTrue(app.CurrentUser() == ann)

	bob, err := app.Login(context.Background(), EmailPassword("bob@example.com", "secret"))
	AssertNil(err)
	AssertTrue(app.CurrentUser() == bob)
	AssertEqual(app.Users(), []*User{ann, bob})

	_, err = app.Login(context.Background(), EmailPassword("ann@example.com", "nope"))
	AssertTrue(errors.Is(err, ErrorAuthenticator))
	AssertTrue(app.CurrentUser() == bob)

	_, err = app.Login(context.Background(), Anonymous())
	AssertTrue(errors.Is(err, ErrorAuthenticator))
}

func TestVerifyKeepsTheSession(t *testing.T) {

	app := NewApp("my-app", byEmail())

	ann, err := app.Verify(context.Background(), EmailPassword("ann@example.com", "secret"))
	AssertNil(err)
	AssertEqual(ann.ID, "ann@example.com")
	AssertEqual(ann.AppID, "my-app")
	AssertEqual(ann.Provider, ProviderEmailPassword)
	AssertNil(app.CurrentUser())
	AssertEqual(len(app.Users()), 0)

	bob, err := app.Login(context.Background(), EmailPassword("bob@example.com", "secret"))
	AssertNil(err)
	_, err = app.Verify(context.Background(), EmailPassword("ann@example.com", "secret"))
	AssertNil(err)
	AssertTrue(app.CurrentUser() == bob)

	_, err = app.Verify(context.Background(), EmailPassword("ann@example.com", "nope"))
	AssertTrue(errors.Is(err, ErrorAuthenticator))
}

func TestLogout(t *testing.T) {

	app, ann, bob := loggedIn()

	AssertNil(app.Logout(bob))
	AssertEqual(bob.State(), UserLoggedOut)
	AssertTrue(app.CurrentUser() == ann)

	AssertNil(app.Logout(ann))
	AssertNil(app.CurrentUser())

	again, err := app.Login(context.Background(), EmailPassword("bob@example.com", "secret"))
	AssertNil(err)
	AssertTrue(again == bob)
	AssertEqual(len(app.Users()), 2)
}

func TestSwitchAndRemoveUser(t *testing.T) {

	app, ann, bob := loggedIn()

	AssertNil(app.SwitchUser(ann))
	AssertTrue(app.CurrentUser() == ann)

	AssertNil(app.RemoveUser(ann))
	AssertEqual(ann.State(), UserRemoved)
	AssertTrue(app.CurrentUser() == bob)
	AssertEqual(app.Users(), []*User{bob})

	err := app.SwitchUser(ann)
	AssertTrue(errors.Is(err, ErrorUserNotFound))
	err = app.Logout(ann)
	AssertTrue(errors.Is(err, ErrorUserNotFound))
}
