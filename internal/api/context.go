package api

import (
	"context"

	"github.com/org/passvault/pkg/models"
)

type contextKey string

const (
	ctxKeyToken     contextKey = "token"
	ctxKeyIdentity  contextKey = "identity"
	ctxKeyRequestID contextKey = "request_id"
)

func withSession(ctx context.Context, ident *models.Identity, t *models.Token) context.Context {
	ctx = context.WithValue(ctx, ctxKeyIdentity, ident)
	return context.WithValue(ctx, ctxKeyToken, t)
}

func tokenFromCtx(ctx context.Context) *models.Token {
	t, _ := ctx.Value(ctxKeyToken).(*models.Token)
	return t
}

// identityFromCtx returns the caller, or nil on unauthenticated routes.
func identityFromCtx(ctx context.Context) *models.Identity {
	ident, _ := ctx.Value(ctxKeyIdentity).(*models.Identity)
	return ident
}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

func requestIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}
