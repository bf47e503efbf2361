package utils

import (
	"context"

	"github.com/google/uuid"
	"github.com/mmdatafocus/invoice_maker/appctx"
)

var ContextKeyCorrelationId = appctx.ContextKeyCorrelationId

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

// CorrelationIdOrNew returns the request's correlation id, or a fresh one for work that
// did not start from a request.
func CorrelationIdOrNew(ctx context.Context) string {
	if cid, ok := GetCorrelationIdFromContext(ctx); ok && cid != "" {
		return cid
	}
	return uuid.NewString()
}
