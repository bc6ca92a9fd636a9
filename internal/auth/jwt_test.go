package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTLifecycle(t *testing.T) {
	t.Run("оператор и админ", func(t *testing.T) {
		token, err := GenerateJWT(Operator{Name: "viewer"})
		require.NoError(t, err)
		adminToken, err := GenerateJWT(Operator{Name: "root", IsAdmin: true})
		require.NoError(t, err)
		assert.NotEqual(t, token, adminToken)

		claims, err := ValidateJWT(token)
		require.NoError(t, err)
		assert.Equal(t, "viewer", claims.Operator)
		assert.False(t, claims.IsAdmin)
		assert.Equal(t, Issuer, claims.Issuer)

		claims, err = ValidateJWT(adminToken)
		require.NoError(t, err)
		assert.Equal(t, "root", claims.Subject)
		assert.True(t, claims.IsAdmin)
	})

	t.Run("пустое имя", func(t *testing.T) {
		_, err := GenerateJWT(Operator{})
		assert.Error(t, err)
	})

	t.Run("недействительные токены", func(t *testing.T) {
		for _, bad := range []string{"", "invalid.token", "a.b.c", "eyJhbGciOiJIUzI1NiJ9.e30.bad"} {
			_, err := ValidateJWT(bad)
			assert.ErrorIs(t, err, ErrInvalidToken, bad)
		}
	})

	t.Run("просроченный токен", func(t *testing.T) {
		token, err := GenerateJWT(Operator{Name: "old", TTL: time.Nanosecond})
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
		_, err = ValidateJWT(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("чужой издатель", func(t *testing.T) {
		claims := &Claims{Operator: "x", RegisteredClaims: jwt.RegisteredClaims{Issuer: "mmo-game"}}
		secretMu.RLock()
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jwtSecret)
		secretMu.RUnlock()
		require.NoError(t, err)
		_, err = ValidateJWT(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("none подпись", func(t *testing.T) {
		claims := &Claims{Operator: "x", RegisteredClaims: jwt.RegisteredClaims{Issuer: Issuer}}
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = ValidateJWT(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestSecrets(t *testing.T) {
	s1, err := GenerateSecureSecret()
	require.NoError(t, err)
	s2, err := GenerateSecureSecret()
	require.NoError(t, err)
	assert.NotEqual(t, s1, s2)
	assert.GreaterOrEqual(t, len(s1), 40)

	token, err := GenerateJWT(Operator{Name: "before"})
	require.NoError(t, err)

	require.NoError(t, SetJWTSecret(s1))
	_, err = ValidateJWT(token)
	assert.ErrorIs(t, err, ErrInvalidToken, "старый токен после смены секрета")

	for _, bad := range []string{"too-short", "invalid-base64-@#$%", ""} {
		assert.Error(t, SetJWTSecret(bad), bad)
	}
}
