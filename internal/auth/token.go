package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

type Claims struct {
	UserID   string  `json:"user_id"`
	Email    string  `json:"email"`
	Role     string  `json:"role"`
	SellerID *string `json:"seller_id,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the authenticated party this session acts as.
type Identity struct {
	UserID    string
	Email     string
	Role      Role
	SellerID  string
	ExpiresAt time.Time
}

func (i *Identity) IsSeller() bool {
	return i.Role == RoleSeller
}

func (i *Identity) IsBuyer() bool {
	return i.Role == RoleBuyer
}

var (
	ErrTokenEmpty   = errors.New("session token is empty")
	ErrTokenExpired = errors.New("session token is expired")
)

// ParseSessionToken reads the identity claims carried by a platform-issued
// session token. The platform verifies the signature on every API call; the
// client only decodes the claims and checks expiry locally.
func ParseSessionToken(tokenStr string) (*Identity, error) {
	// 1️⃣ Decode claims without signature verification
	if tokenStr == "" {
		return nil, ErrTokenEmpty
	}

	claims := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenStr, claims); err != nil {
		return nil, err
	}

	// 2️⃣ Reject tokens that already expired
	identity := &Identity{
		UserID: claims.UserID,
		Email:  claims.Email,
		Role:   Role(claims.Role),
	}
	if claims.SellerID != nil {
		identity.SellerID = *claims.SellerID
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
		if time.Now().After(identity.ExpiresAt) {
			return nil, ErrTokenExpired
		}
	}

	return identity, nil
}
