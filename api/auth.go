package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/fulldump/box"
	"github.com/golang-jwt/jwt/v5"

	"github.com/fulldump/tightdb/credentials"
)

type userKey struct{}

// GetUser returns the user that authenticated the request, if any.
func GetUser(ctx context.Context) *credentials.User {
	u, _ := ctx.Value(userKey{}).(*credentials.User)
	return u
}

// requestCredentials reads a bearer token or the X-Api-Key and X-Api-Secret
// headers.
func requestCredentials(ctx context.Context) (credentials.Credentials, error) {
	r := box.GetRequest(ctx)

	if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return credentials.JWT(strings.TrimSpace(bearer))
	}

	key := r.Header.Get("X-Api-Key")
	secret := r.Header.Get("X-Api-Secret")
	if key == "" {
		return credentials.Anonymous(), nil
	}
	return credentials.Function(map[string]any{
		"key":    key,
		"secret": secret,
	})
}

func Authenticate(app *credentials.App) box.I {
	return func(next box.H) box.H {
		return func(ctx context.Context) {

			c, err := requestCredentials(ctx)
			if err != nil {
				box.SetError(ctx, fmt.Errorf("%w: %s", ErrUnauthorized, err.Error()))
				return
			}

			user, err := app.Verify(ctx, c)
			if err != nil {
				box.SetError(ctx, ErrUnauthorized)
				return
			}

			next(context.WithValue(ctx, userKey{}, user))
		}
	}
}

var errBadCredentials = errors.New("bad credentials")

// Authenticator accepts the configured api key and secret, and HS256 tokens
// signed with jwtSecret. Empty values disable each method.
func Authenticator(apiKey, apiSecret string, jwtSecret []byte) credentials.Authenticator {
	return credentials.AuthenticatorFunc(func(ctx context.Context, appID string, c credentials.Credentials) (*credentials.User, error) {
		payload := c.Payload()

		switch c.Provider() {
		case credentials.ProviderFunction:
			if apiKey == "" {
				return nil, errBadCredentials
			}
			key, _ := payload["key"].(string)
			secret, _ := payload["secret"].(string)
			if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) != 1 ||
				subtle.ConstantTimeCompare([]byte(secret), []byte(apiSecret)) != 1 {
				return nil, errBadCredentials
			}
			return &credentials.User{ID: "key:" + key}, nil

		case credentials.ProviderJWT:
			if len(jwtSecret) == 0 {
				return nil, errBadCredentials
			}
			raw, _ := payload["token"].(string)
			token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
				return jwtSecret, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil {
				return nil, err
			}
			subject, err := token.Claims.GetSubject()
			if err != nil || subject == "" {
				return nil, errBadCredentials
			}
			claims, _ := token.Claims.(jwt.MapClaims)
			return &credentials.User{ID: "jwt:" + subject, Profile: map[string]any(claims)}, nil
		}

		return nil, fmt.Errorf("%w: provider %s", errBadCredentials, c.Provider())
	})
}
