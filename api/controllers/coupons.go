package controllers

import (
	"net/http"

	"github.com/bopmarket/backend/api/middleware"
	"github.com/bopmarket/backend/api/responses"
	"github.com/bopmarket/backend/api/validators"
	"github.com/bopmarket/backend/internal/coupons"
	pkgerrors "github.com/bopmarket/backend/pkg/errors"
	"github.com/bopmarket/backend/pkg/logger"
)

type couponValidateRequest struct {
	Code string `json:"code" validate:"required,min=2,max=64"`
}

// CouponValidate checks a code against the caller's eligibility without
// reserving anything. Checkout re-evaluates at initialize time.
func CouponValidate(svc coupons.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "coupons service unavailable"))
			return
		}

		var req couponValidateRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		evaluation, err := svc.Evaluate(r.Context(), middleware.UserIDFromContext(r.Context()), req.Code)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, evaluation)
	}
}
