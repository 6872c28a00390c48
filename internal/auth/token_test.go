package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
)

func signToken(t *testing.T, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-secret"))
	assert.NoError(t, err)
	return signed
}

func TestParseSessionToken(t *testing.T) {
	sellerID := "seller-77"

	t.Run("Valid buyer token", func(t *testing.T) {
		tokenStr := signToken(t, Claims{
			UserID: "user-42",
			Email:  "budi@example.com",
			Role:   "buyer",
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		})

		identity, err := ParseSessionToken(tokenStr)
		assert.NoError(t, err)
		assert.Equal(t, "user-42", identity.UserID)
		assert.Equal(t, "budi@example.com", identity.Email)
		assert.Equal(t, RoleBuyer, identity.Role)
		assert.True(t, identity.IsBuyer())
		assert.False(t, identity.IsSeller())
		assert.Empty(t, identity.SellerID)
	})

	t.Run("Valid seller token", func(t *testing.T) {
		tokenStr := signToken(t, Claims{
			UserID:   "user-7",
			Role:     "seller",
			SellerID: &sellerID,
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		})

		identity, err := ParseSessionToken(tokenStr)
		assert.NoError(t, err)
		assert.True(t, identity.IsSeller())
		assert.Equal(t, "seller-77", identity.SellerID)
	})

	t.Run("Expired token", func(t *testing.T) {
		tokenStr := signToken(t, Claims{
			UserID: "user-42",
			Role:   "buyer",
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			},
		})

		identity, err := ParseSessionToken(tokenStr)
		assert.ErrorIs(t, err, ErrTokenExpired)
		assert.Nil(t, identity)
	})

	t.Run("Empty token", func(t *testing.T) {
		identity, err := ParseSessionToken("")
		assert.ErrorIs(t, err, ErrTokenEmpty)
		assert.Nil(t, identity)
	})

	t.Run("Garbage token", func(t *testing.T) {
		identity, err := ParseSessionToken("not-a-jwt")
		assert.Error(t, err)
		assert.Nil(t, identity)
	})

	t.Run("Token without expiry", func(t *testing.T) {
		tokenStr := signToken(t, Claims{UserID: "user-9", Role: "buyer"})

		identity, err := ParseSessionToken(tokenStr)
		assert.NoError(t, err)
		assert.True(t, identity.ExpiresAt.IsZero())
	})
}
