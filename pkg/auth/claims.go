package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// OrderTokenPayload captures the data available when minting an order token.
type OrderTokenPayload struct {
	OrderID     uuid.UUID
	OrderNumber string
	JTI         string
}

// OrderTokenClaims is the typed JWT handed to a customer at order creation.
// It scopes the bearer to a single order.
type OrderTokenClaims struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	jwt.RegisteredClaims
}
