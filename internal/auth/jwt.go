package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carry the tenant principal inside an HS256 bearer token.
type Claims struct {
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

func GenerateToken(tenantID string, roles []string, secret string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(tenantID) == "" {
		return "", fmt.Errorf("tenant id is required")
	}
	if secret == "" {
		return "", fmt.Errorf("signing secret is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	now := time.Now()
	claims := &Claims{
		TenantID: tenantID,
		Roles:    roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   tenantID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ValidateToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		if strings.TrimSpace(claims.TenantID) == "" {
			return nil, errors.New("token has no tenant")
		}
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

type JWTValidator struct {
	secret string
}

func NewJWTValidator(secret string) (*JWTValidator, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	return &JWTValidator{secret: secret}, nil
}

func (v *JWTValidator) Validate(_ context.Context, token string) (Identity, bool) {
	if strings.Count(token, ".") != 2 {
		return Identity{}, false
	}
	claims, err := ValidateToken(token, v.secret)
	if err != nil {
		return Identity{}, false
	}
	roles := append([]string(nil), claims.Roles...)
	sort.Strings(roles)
	return Identity{TenantID: claims.TenantID, Roles: roles}, true
}

// Chain accepts a credential if any of its validators does, in order.
type Chain []APIKeyValidator

func (c Chain) Validate(ctx context.Context, credential string) (Identity, bool) {
	for _, validator := range c {
		if validator == nil {
			continue
		}
		if identity, ok := validator.Validate(ctx, credential); ok {
			return identity, true
		}
	}
	return Identity{}, false
}
