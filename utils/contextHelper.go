package utils

import (
	"context"

	"github.com/mmdatafocus/finreport_backend/appctx"
)

// Alias the shared context key type so existing code keeps working.
type contextKey = appctx.ContextKey

var (
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
	ContextKeyUserName      = appctx.ContextKeyUserName
	ContextKeyEntity        = appctx.ContextKeyEntity
)

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func GetUserNameFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyUserName)
}

func SetUserNameInContext(ctx context.Context, userName string) context.Context {
	return appctx.Set(ctx, ContextKeyUserName, userName)
}

func GetEntityFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyEntity)
}

func SetEntityInContext(ctx context.Context, entity string) context.Context {
	return appctx.Set(ctx, ContextKeyEntity, entity)
}

