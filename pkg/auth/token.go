package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/cmor03/keepsake-sub000/pkg/config"
)

var jwtSigningMethod = jwt.SigningMethodHS256

// MintOrderToken issues a signed JWT scoped to one order using the configured TTL.
func MintOrderToken(cfg config.OrderTokenConfig, now time.Time, payload OrderTokenPayload) (string, error) {
	if cfg.Secret == "" {
		return "", fmt.Errorf("order token secret is required")
	}
	if cfg.Issuer == "" {
		return "", fmt.Errorf("order token issuer is required")
	}
	if cfg.TTLMinutes <= 0 {
		return "", fmt.Errorf("order token ttl must be positive")
	}
	if payload.OrderID == uuid.Nil {
		return "", fmt.Errorf("order id is required")
	}

	jti := strings.TrimSpace(payload.JTI)
	if jti == "" {
		jti = uuid.NewString()
	}

	claims := OrderTokenClaims{
		OrderID:     payload.OrderID,
		OrderNumber: payload.OrderNumber,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.TTL())),
			ID:        jti,
		},
	}

	token := jwt.NewWithClaims(jwtSigningMethod, claims)
	signed, err := token.SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing order token: %w", err)
	}
	return signed, nil
}

// ParseOrderToken validates the JWT string and returns typed claims.
func ParseOrderToken(cfg config.OrderTokenConfig, tokenString string) (*OrderTokenClaims, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("order token secret is required")
	}

	claims := &OrderTokenClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method != jwtSigningMethod {
				return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
			}
			return []byte(cfg.Secret), nil
		},
		jwt.WithValidMethods([]string{jwtSigningMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
	)
	if err != nil {
		return nil, err
	}

	return claims, nil
}
