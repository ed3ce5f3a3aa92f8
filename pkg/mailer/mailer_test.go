package mailer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bopmarket/backend/pkg/config"
	pkgerrors "github.com/bopmarket/backend/pkg/errors"
)

func newTestMailer(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(context.Background(), config.SendgridConfig{
		APIKey:      "SG.test",
		DefaultFrom: "noreply@bopmarket.test",
		FromName:    "BopMarket",
	}, nil)
	require.NoError(t, err)
	return client.WithSendURL(server.URL)
}

func TestSendPostsSendgridPayload(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any

	client := newTestMailer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusAccepted)
	}))

	err := client.Send(context.Background(), Message{
		To:       "buyer@example.com",
		Subject:  "Order placed",
		TextBody: "Your order has been placed.",
	})
	require.NoError(t, err)
	require.Equal(t, "Bearer SG.test", gotAuth)
	require.Equal(t, "Order placed", gotBody["subject"])

	from := gotBody["from"].(map[string]any)
	require.Equal(t, "noreply@bopmarket.test", from["email"])
}

func TestSendValidatesMessage(t *testing.T) {
	client := newTestMailer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}))

	err := client.Send(context.Background(), Message{Subject: "s", TextBody: "b"})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeValidation, typed.Code())

	err = client.Send(context.Background(), Message{To: "a@b.c", Subject: "s"})
	typed = pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeValidation, typed.Code())
}

func TestSendMapsGatewayFailure(t *testing.T) {
	client := newTestMailer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	err := client.Send(context.Background(), Message{
		To: "buyer@example.com", Subject: "s", TextBody: "b",
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeDependency, typed.Code())
}

func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewClient(context.Background(), config.SendgridConfig{}, nil)
	require.Error(t, err)

	_, err = NewClient(context.Background(), config.SendgridConfig{APIKey: "SG.x"}, nil)
	require.Error(t, err)
}
