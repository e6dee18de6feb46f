// Package credentials holds the authentication material handed to a remote
// auth service. Nothing here inspects it: an Authenticator does.
package credentials

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fulldump/tightdb/bridge"
	"github.com/fulldump/tightdb/dberr"
)

type Provider string

const (
	ProviderAnonymous     Provider = "anonymous"
	ProviderEmailPassword Provider = "email-password"
	ProviderAPIKey        Provider = "api-key"
	ProviderJWT           Provider = "jwt"
	ProviderFunction      Provider = "function"
	ProviderApple         Provider = "apple"
	ProviderGoogle        Provider = "google"
	ProviderFacebook      Provider = "facebook"
)

// Credentials is immutable. Constructors copy what they are given and
// Payload returns a copy.
type Credentials struct {
	provider Provider
	payload  map[string]any
}

func (c Credentials) Provider() Provider {
	return c.provider
}

func (c Credentials) Payload() map[string]any {
	copied, _ := bridge.CopyBSON(c.payload)
	m, _ := copied.(map[string]any)
	if m == nil {
		m = map[string]any{}
	}
	return m
}

// String never prints the payload.
func (c Credentials) String() string {
	return fmt.Sprintf("credentials(%s)", c.provider)
}

func Anonymous() Credentials {
	return Credentials{provider: ProviderAnonymous, payload: map[string]any{}}
}

func EmailPassword(email, password string) Credentials {
	return Credentials{provider: ProviderEmailPassword, payload: map[string]any{
		"email":    email,
		"password": password,
	}}
}

func APIKey(key string) Credentials {
	return Credentials{provider: ProviderAPIKey, payload: map[string]any{"key": key}}
}

// JWT only checks the token is well formed. Verifying its signature is the
// job of the server.
func JWT(token string) (Credentials, error) {
	if _, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{}); err != nil {
		return Credentials{}, fmt.Errorf("%w: jwt: %s", dberr.ErrorEncoding, err.Error())
	}
	return Credentials{provider: ProviderJWT, payload: map[string]any{"token": token}}, nil
}

// Function carries an arbitrary document to a custom auth function.
func Function(payload map[string]any) (Credentials, error) {
	copied, err := bridge.CopyBSON(payload)
	if err != nil {
		return Credentials{}, err
	}
	m, _ := copied.(map[string]any)
	if m == nil {
		m = map[string]any{}
	}
	return Credentials{provider: ProviderFunction, payload: m}, nil
}

func Apple(idToken string) Credentials {
	return Credentials{provider: ProviderApple, payload: map[string]any{"id_token": idToken}}
}

func Google(authCode string) Credentials {
	return Credentials{provider: ProviderGoogle, payload: map[string]any{"auth_code": authCode}}
}

func Facebook(accessToken string) Credentials {
	return Credentials{provider: ProviderFacebook, payload: map[string]any{"access_token": accessToken}}
}
