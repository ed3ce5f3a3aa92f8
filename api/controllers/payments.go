package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/bopmarket/backend/api/middleware"
	"github.com/bopmarket/backend/api/responses"
	"github.com/bopmarket/backend/api/validators"
	"github.com/bopmarket/backend/internal/cart"
	"github.com/bopmarket/backend/internal/fulfillment"
	"github.com/bopmarket/backend/internal/payments"
	pkgerrors "github.com/bopmarket/backend/pkg/errors"
	"github.com/bopmarket/backend/pkg/logger"
	"github.com/bopmarket/backend/pkg/types"
)

type paymentInitializeRequest struct {
	Items             types.CartMap `json:"items,omitempty"`
	CouponCode        string        `json:"coupon_code,omitempty" validate:"omitempty,min=2,max=64"`
	ShippingAddressID *string       `json:"shipping_address_id,omitempty" validate:"omitempty,uuid"`
	CallbackURL       string        `json:"callback_url,omitempty" validate:"omitempty,url,max=2048"`
}

type paymentVerifyRequest struct {
	Reference string `json:"reference" validate:"required,min=4,max=128"`
}

// PaymentInitialize snapshots the saved cart into an order plan and opens a
// gateway checkout session. Items in the body replace the saved cart first,
// so a client that never synced its cart can still check out in one call.
func PaymentInitialize(svc payments.Service, cartSvc cart.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		var req paymentInitializeRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		userID := middleware.UserIDFromContext(r.Context())
		if len(req.Items) > 0 {
			if cartSvc == nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
				return
			}
			if _, err := cartSvc.Replace(r.Context(), userID, req.Items); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		input := payments.InitializeInput{
			UserID:      userID,
			CouponCode:  strings.TrimSpace(req.CouponCode),
			CallbackURL: strings.TrimSpace(req.CallbackURL),
		}
		if req.ShippingAddressID != nil {
			addressID, err := uuid.Parse(*req.ShippingAddressID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid shipping address id"))
				return
			}
			input.ShippingAddressID = &addressID
		}

		result, err := svc.Initialize(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// PaymentVerify asks the gateway for the charge outcome and, on success,
// fulfills the session before responding.
func PaymentVerify(engine *fulfillment.Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if engine == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "fulfillment engine unavailable"))
			return
		}

		var req paymentVerifyRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		session, err := engine.VerifyAndFulfill(r.Context(), middleware.UserIDFromContext(r.Context()), strings.TrimSpace(req.Reference))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"reference": session.Reference,
			"status":    session.Status,
		})
	}
}

// PaymentStatus returns the caller's view of one session.
func PaymentStatus(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		reference := strings.TrimSpace(r.URL.Query().Get("reference"))
		if reference == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "reference is required"))
			return
		}

		status, err := svc.Status(r.Context(), middleware.UserIDFromContext(r.Context()), reference)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, status)
	}
}

// PaymentList pages through the caller's payment sessions, newest first.
func PaymentList(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ListForUser(r.Context(), middleware.UserIDFromContext(r.Context()), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
