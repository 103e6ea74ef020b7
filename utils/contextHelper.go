package utils

import (
	"context"

	"github.com/sekura/tollops_backend/appctx"
)

var (
	ContextKeyActor         = appctx.ContextKeyActor
	ContextKeyRole          = appctx.ContextKeyRole
	ContextKeySite          = appctx.ContextKeySite
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
)

func GetActorFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyActor)
}

func GetRoleFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyRole)
}

func GetSiteFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeySite)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

// SetIdentityInContext stores the verified caller taken from the token.
func SetIdentityInContext(ctx context.Context, actor, role, site string) context.Context {
	ctx = appctx.Set(ctx, ContextKeyActor, actor)
	ctx = appctx.Set(ctx, ContextKeyRole, role)
	return appctx.Set(ctx, ContextKeySite, site)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}
