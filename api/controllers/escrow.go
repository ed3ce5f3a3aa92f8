package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bopmarket/backend/api/middleware"
	"github.com/bopmarket/backend/api/responses"
	"github.com/bopmarket/backend/api/validators"
	"github.com/bopmarket/backend/internal/escrow"
	"github.com/bopmarket/backend/pkg/enums"
	pkgerrors "github.com/bopmarket/backend/pkg/errors"
	"github.com/bopmarket/backend/pkg/logger"
)

type escrowTransitionRequest struct {
	Status string `json:"status" validate:"required"`
}

// EscrowGet returns the escrow for an order, creating the missing row for a
// paid order that never got one.
func EscrowGet(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "escrow service unavailable"))
			return
		}

		orderID, err := uuid.Parse(chi.URLParam(r, "orderId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id"))
			return
		}

		row, err := svc.Ensure(r.Context(), middleware.UserIDFromContext(r.Context()), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, row)
	}
}

// EscrowTransition moves an order's escrow to the requested status. The
// service enforces who may request which move.
func EscrowTransition(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "escrow service unavailable"))
			return
		}

		orderID, err := uuid.Parse(chi.URLParam(r, "orderId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id"))
			return
		}

		var req escrowTransitionRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		userID := middleware.UserIDFromContext(r.Context())
		ctx := r.Context()

		switch enums.EscrowStatus(strings.ToLower(strings.TrimSpace(req.Status))) {
		case enums.EscrowShipped:
			row, err := svc.MarkShipped(ctx, userID, orderID)
			respond(ctx, logg, w, row, err)
		case enums.EscrowDelivered:
			row, err := svc.MarkDelivered(ctx, userID, orderID)
			respond(ctx, logg, w, row, err)
		case enums.EscrowReleased:
			row, err := svc.Release(ctx, userID, orderID)
			respond(ctx, logg, w, row, err)
		case enums.EscrowDisputed:
			row, err := svc.Dispute(ctx, userID, orderID)
			respond(ctx, logg, w, row, err)
		default:
			responses.WriteError(ctx, logg, w,
				pkgerrors.New(pkgerrors.CodeValidation, "unknown escrow status").WithDetails(map[string]any{"status": req.Status}))
		}
	}
}

// EscrowListSales pages escrows where the caller is the seller.
func EscrowListSales(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "escrow service unavailable"))
			return
		}

		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ListForSeller(r.Context(), middleware.UserIDFromContext(r.Context()), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// EscrowListPurchases pages escrows where the caller is the buyer.
func EscrowListPurchases(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "escrow service unavailable"))
			return
		}

		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ListForBuyer(r.Context(), middleware.UserIDFromContext(r.Context()), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func respond(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, row any, err error) {
	if err != nil {
		responses.WriteError(ctx, logg, w, err)
		return
	}
	responses.WriteSuccess(w, row)
}
