package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/projecthub-backend/api/responses"
	"github.com/angelmondragon/projecthub-backend/api/validators"
	"github.com/angelmondragon/projecthub-backend/internal/purchases"
	pkgerrors "github.com/angelmondragon/projecthub-backend/pkg/errors"
	"github.com/angelmondragon/projecthub-backend/pkg/logger"
	"github.com/angelmondragon/projecthub-backend/pkg/pagination"
)

type purchaseLister interface {
	ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (*purchases.PurchaseList, error)
}

// ListPurchases returns the caller's purchases, newest first.
func ListPurchases(svc purchaseLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "purchase service unavailable"))
			return
		}

		principal, err := principalFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.ListForUser(r.Context(), principal.UserID, pagination.Params{
			Limit:  limit,
			Cursor: validators.SanitizeString(r.URL.Query().Get("cursor"), 256),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, list)
	}
}
