package paystack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bopmarket/backend/pkg/config"
	pkgerrors "github.com/bopmarket/backend/pkg/errors"
	"github.com/bopmarket/backend/pkg/logger"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logg := logger.New(logger.Options{ServiceName: "test"})
	client, err := NewClient(context.Background(), config.PaystackConfig{
		SecretKey: "sk_test_abc",
		BaseURL:   server.URL,
	}, logg)
	require.NoError(t, err)
	return client, server
}

func TestInitializeSendsAuthAndDecodesData(t *testing.T) {
	var gotAuth string
	var gotBody InitializeParams

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/transaction/initialize", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		json.NewEncoder(w).Encode(map[string]any{
			"status":  true,
			"message": "Authorization URL created",
			"data": map[string]any{
				"authorization_url": "https://checkout.paystack.com/abc123",
				"access_code":       "abc123",
				"reference":         gotBody.Reference,
			},
		})
	}))

	result, err := client.Initialize(context.Background(), InitializeParams{
		Reference:   "BOP_1_x",
		Email:       "buyer@example.com",
		AmountCents: 270000,
		Currency:    "NGN",
	})
	require.NoError(t, err)
	require.Equal(t, "Bearer sk_test_abc", gotAuth)
	require.Equal(t, "BOP_1_x", gotBody.Reference)
	require.Equal(t, int64(270000), gotBody.AmountCents)
	require.Equal(t, "https://checkout.paystack.com/abc123", result.AuthorizationURL)
	require.Equal(t, "abc123", result.AccessCode)
}

func TestInitializeValidatesInput(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for invalid input")
	}))

	_, err := client.Initialize(context.Background(), InitializeParams{Email: "a@b.c", AmountCents: 100})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeValidation, typed.Code())

	_, err = client.Initialize(context.Background(), InitializeParams{Reference: "r", Email: "a@b.c"})
	typed = pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeValidation, typed.Code())
}

func TestVerifyMapsGatewayRejection(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/transaction/verify/BOP_1_missing", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{
			"status":  false,
			"message": "Transaction reference not found",
		})
	}))

	_, err := client.Verify(context.Background(), "BOP_1_missing")
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeNotFound, typed.Code())
}

func TestVerifySucceeded(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status":  true,
			"message": "Verification successful",
			"data": map[string]any{
				"reference":        "BOP_1_x",
				"status":           "success",
				"amount":           270000,
				"currency":         "NGN",
				"gateway_response": "Successful",
			},
		})
	}))

	result, err := client.Verify(context.Background(), "BOP_1_x")
	require.NoError(t, err)
	require.True(t, result.Succeeded())
	require.Equal(t, int64(270000), result.AmountCents)
}

func TestSignatureRoundTrip(t *testing.T) {
	payload := []byte(`{"event":"charge.success","data":{"reference":"BOP_1_x"}}`)
	sig := ComputeSignature("sk_test_abc", payload)

	require.True(t, VerifySignature("sk_test_abc", payload, sig))
	require.False(t, VerifySignature("sk_test_abc", payload, "deadbeef"))
	require.False(t, VerifySignature("sk_test_other", payload, sig))
	require.False(t, VerifySignature("sk_test_abc", payload, ""))
}

func TestParseWebhookEvent(t *testing.T) {
	payload := []byte(`{"event":"charge.success","data":{"id":42,"reference":"BOP_1_x","status":"success","amount":270000,"currency":"NGN"}}`)
	event, err := ParseWebhookEvent(payload)
	require.NoError(t, err)
	require.Equal(t, EventChargeSuccess, event.Event)
	require.Equal(t, "BOP_1_x", event.Data.Reference)
	require.Equal(t, "charge.success:BOP_1_x", event.DedupeID())
}
