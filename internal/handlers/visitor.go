package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/xdignya776/shoptrae/internal/platform/httpx"
	"github.com/xdignya776/shoptrae/internal/platform/requestctx"
	"github.com/xdignya776/shoptrae/internal/session"
)

// Visitors resolves the state behind a visitor id.
type Visitors interface {
	Visitor(ctx context.Context, id string) (*session.Visitor, error)
}

// visitorFromRequest writes the error response itself and returns nil when no visitor is available.
func visitorFromRequest(w http.ResponseWriter, r *http.Request, visitors Visitors) *session.Visitor {
	ctx := r.Context()
	if visitors == nil {
		httpx.WriteError(ctx, w, httpx.NewError("session_unavailable", "visitor sessions are unavailable", http.StatusServiceUnavailable))
		return nil
	}
	id := requestctx.VisitorID(ctx)
	if id == "" {
		httpx.WriteError(ctx, w, httpx.NewError("session_required", "a visitor session is required", http.StatusUnauthorized))
		return nil
	}
	v, err := visitors.Visitor(ctx, id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrClosed) {
			status = http.StatusServiceUnavailable
		}
		requestctx.Logger(ctx).Error("failed to resolve visitor", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("session_error", "failed to load visitor session", status))
		return nil
	}
	return v
}
