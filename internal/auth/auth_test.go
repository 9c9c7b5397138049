package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/quizroom/quizroom/internal/auth"
	"github.com/quizroom/quizroom/internal/domain"
	"github.com/quizroom/quizroom/internal/errors"
)

var secret = []byte("test-secret")

func TestVerifier_Verify(t *testing.T) {
	t.Parallel()

	v := auth.NewVerifier(auth.Config{Secret: secret})

	id, err := v.Verify(signToken(t, secret, "u1", "alice", "alice@example.com"))
	require.NoError(t, err)
	require.Equal(t, domain.Identity{UID: "u1", DisplayName: "alice", Email: "alice@example.com"}, id)
}

func TestVerifier_Verify_failures(t *testing.T) {
	t.Parallel()

	v := auth.NewVerifier(auth.Config{Secret: secret})

	tests := map[string]string{
		"garbage":      "not-a-token",
		"wrong secret": signToken(t, []byte("other"), "u1", "alice", ""),
		"no subject":   signToken(t, secret, "", "alice", ""),
	}

	for name, token := range tests {
		token := token
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := v.Verify(token)
			require.True(t, errors.Is(err, errors.CodeUnauthenticated))
		})
	}
}

func TestVerifier_Middleware(t *testing.T) {
	t.Parallel()

	gin.SetMode(gin.TestMode)
	v := auth.NewVerifier(auth.Config{Secret: secret})

	e := gin.New()
	e.GET("/whoami", v.Middleware(), func(c *gin.Context) {
		id, ok := auth.FromContext(c)
		require.True(t, ok)
		c.String(http.StatusOK, id.UID)
	})

	t.Run("authenticated", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, secret, "u1", "alice", ""))
		e.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "u1", w.Body.String())
	})

	t.Run("missing token", func(t *testing.T) {
		w := httptest.NewRecorder()
		e.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))

		require.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func signToken(t *testing.T, key []byte, uid, name, email string) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   uid,
		"name":  name,
		"email": email,
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}
