package controllers

import (
	"net/http"

	"github.com/bopmarket/backend/api/middleware"
	"github.com/bopmarket/backend/api/responses"
	"github.com/bopmarket/backend/api/validators"
	"github.com/bopmarket/backend/internal/cart"
	pkgerrors "github.com/bopmarket/backend/pkg/errors"
	"github.com/bopmarket/backend/pkg/logger"
	"github.com/bopmarket/backend/pkg/types"
)

type cartReplaceRequest struct {
	Items types.CartMap `json:"items" validate:"required"`
}

type cartResponse struct {
	Items types.CartMap `json:"items"`
}

// CartFetch returns the caller's saved cart.
func CartFetch(svc cart.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}

		items, err := svc.Get(r.Context(), middleware.UserIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, cartResponse{Items: items})
	}
}

// CartReplace swaps the saved cart for the submitted one. The response
// carries the sanitized cart actually stored.
func CartReplace(svc cart.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}

		var req cartReplaceRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		stored, err := svc.Replace(r.Context(), middleware.UserIDFromContext(r.Context()), req.Items)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, cartResponse{Items: stored})
	}
}

// CartClear empties the saved cart.
func CartClear(svc cart.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}

		if err := svc.Clear(r.Context(), middleware.UserIDFromContext(r.Context())); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, cartResponse{Items: types.CartMap{}})
	}
}
