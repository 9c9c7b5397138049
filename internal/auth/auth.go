// Package auth verifies tokens issued by the external identity provider.
// There is no user database; the token is the identity.
package auth

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/quizroom/quizroom/internal/domain"
	"github.com/quizroom/quizroom/internal/errors"
)

const identityKey = "auth.identity"

type Config struct {
	// Secret is the HMAC key shared with the identity provider.
	Secret []byte
}

type Verifier struct {
	secret []byte
}

func NewVerifier(c Config) *Verifier {
	return &Verifier{
		secret: c.Secret,
	}
}

type claims struct {
	DisplayName string `json:"name"`
	Email       string `json:"email"`
	jwt.RegisteredClaims
}

// Verify parses and validates a bearer token, yielding the caller's identity.
func (v *Verifier) Verify(token string) (domain.Identity, error) {
	var cl claims
	_, err := jwt.ParseWithClaims(token, &cl, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return domain.Identity{}, errors.New(errors.CodeUnauthenticated,
			errors.WithMessagef("invalid token"),
			errors.WithCause(err))
	}

	if cl.Subject == "" {
		return domain.Identity{}, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("token has no subject"))
	}

	return domain.Identity{
		UID:         cl.Subject,
		DisplayName: cl.DisplayName,
		Email:       cl.Email,
	}, nil
}

// Middleware authenticates requests and stores the identity on the gin
// context.
func (v *Verifier) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortUnauthenticated(c, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("missing bearer token")))
			return
		}

		id, err := v.Verify(token)
		if err != nil {
			abortUnauthenticated(c, errors.Convert(err))
			return
		}

		c.Set(identityKey, id)
		c.Next()
	}
}

// FromContext returns the identity the middleware authenticated.
func FromContext(c *gin.Context) (domain.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return domain.Identity{}, false
	}

	id, ok := v.(domain.Identity)
	return id, ok
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	return strings.TrimPrefix(header, prefix), true
}

func abortUnauthenticated(c *gin.Context, e *errors.Error) {
	c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
}
