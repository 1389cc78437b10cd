package core

import "context"

type contextKey string

const ctxKeyOperator contextKey = "operator"

// ContextWithOperator records who is acting, for created_by and logs.
func ContextWithOperator(ctx context.Context, operator string) context.Context {
	return context.WithValue(ctx, ctxKeyOperator, operator)
}

// OperatorFromContext returns the operator set by ContextWithOperator, or "".
func OperatorFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyOperator).(string); ok {
		return v
	}
	return ""
}
