package webhooks

import (
	"io"
	"net/http"

	"github.com/bopmarket/backend/api/responses"
	paystackwebhook "github.com/bopmarket/backend/internal/webhooks/paystack"
	pkgerrors "github.com/bopmarket/backend/pkg/errors"
	"github.com/bopmarket/backend/pkg/logger"
)

const paystackSignatureHeader = "X-Paystack-Signature"

// PaystackWebhook receives charge events from the gateway. Signature
// verification, dedupe, and routing happen in the webhook service; an error
// response makes the gateway redeliver.
func PaystackWebhook(svc *paystackwebhook.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		if err := svc.HandleWebhook(ctx, r.Header.Get(paystackSignatureHeader), payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}
