package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleFarmer = "farmer"
	RoleAdmin  = "admin"
	// RoleService is used by trusted back-office callers acting on any farmer.
	RoleService = "service"

	TokenTypeAccess = "access"
)

type JWTManager struct {
	issuer   string
	audience string
	secret   []byte
	now      func() time.Time
}

type Claims struct {
	UserID   string `json:"uid"`
	Role     string `json:"role"`
	FarmerID string `json:"fid,omitempty"`
	Type     string `json:"typ"`
	jwt.RegisteredClaims
}

func NewJWTManager(issuer, audience, signingKey string) *JWTManager {
	return &JWTManager{
		issuer:   issuer,
		audience: audience,
		secret:   []byte(signingKey),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *JWTManager) Mint(userID, role, farmerID string, ttl time.Duration) (string, error) {
	now := m.now()
	claims := Claims{
		UserID:   userID,
		Role:     role,
		FarmerID: farmerID,
		Type:     TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   userID,
			Audience:  []string{m.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(m.secret)
}

func (m *JWTManager) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return m.secret, nil
	}, jwt.WithIssuer(m.issuer), jwt.WithAudience(m.audience), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Type != TokenTypeAccess {
		return nil, errors.New("invalid token type")
	}
	return claims, nil
}
