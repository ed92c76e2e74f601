package middleware

import "context"

type contextKey string

const (
	ctxOrderID     contextKey = "order_id"
	ctxOrderNumber contextKey = "order_number"
)

func OrderIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxOrderID).(string); ok {
		return v
	}
	return ""
}

func OrderNumberFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxOrderNumber).(string); ok {
		return v
	}
	return ""
}

// WithOrderID injects the order identifier into the context.
func WithOrderID(ctx context.Context, orderID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxOrderID, orderID)
}

// WithOrderNumber injects the public order number into the context.
func WithOrderNumber(ctx context.Context, orderNumber string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxOrderNumber, orderNumber)
}
