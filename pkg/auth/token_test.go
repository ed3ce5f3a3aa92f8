package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bopmarket/backend/pkg/config"
)

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{Secret: "test-secret", Issuer: "bopmarket-test"}
}

func TestMintAndParseRoundTrip(t *testing.T) {
	cfg := testJWTConfig()
	userID := uuid.New()

	token, err := MintAccessToken(cfg, time.Now(), time.Hour, AccessTokenPayload{
		UserID:   userID,
		Email:    "buyer@example.com",
		Name:     "Ada B",
		IsMember: true,
	})
	require.NoError(t, err)

	claims, err := ParseAccessToken(cfg, token)
	require.NoError(t, err)
	require.Equal(t, userID, claims.UserID)
	require.Equal(t, "buyer@example.com", claims.Email)
	require.True(t, claims.IsMember)
	require.Equal(t, cfg.Issuer, claims.Issuer)
}

func TestParseRejectsExpiredToken(t *testing.T) {
	cfg := testJWTConfig()
	token, err := MintAccessToken(cfg, time.Now().Add(-2*time.Hour), time.Hour, AccessTokenPayload{
		UserID: uuid.New(),
		Email:  "buyer@example.com",
	})
	require.NoError(t, err)

	_, err = ParseAccessToken(cfg, token)
	require.Error(t, err)
}

func TestParseRejectsWrongSecret(t *testing.T) {
	token, err := MintAccessToken(testJWTConfig(), time.Now(), time.Hour, AccessTokenPayload{
		UserID: uuid.New(),
		Email:  "buyer@example.com",
	})
	require.NoError(t, err)

	_, err = ParseAccessToken(config.JWTConfig{Secret: "other", Issuer: "bopmarket-test"}, token)
	require.Error(t, err)
}

func TestParseRejectsWrongIssuer(t *testing.T) {
	token, err := MintAccessToken(config.JWTConfig{Secret: "test-secret", Issuer: "someone-else"}, time.Now(), time.Hour, AccessTokenPayload{
		UserID: uuid.New(),
		Email:  "buyer@example.com",
	})
	require.NoError(t, err)

	_, err = ParseAccessToken(testJWTConfig(), token)
	require.Error(t, err)
}

func TestMintValidation(t *testing.T) {
	_, err := MintAccessToken(config.JWTConfig{Issuer: "x"}, time.Now(), time.Hour, AccessTokenPayload{UserID: uuid.New()})
	require.Error(t, err)

	_, err = MintAccessToken(testJWTConfig(), time.Now(), 0, AccessTokenPayload{UserID: uuid.New()})
	require.Error(t, err)

	_, err = MintAccessToken(testJWTConfig(), time.Now(), time.Hour, AccessTokenPayload{})
	require.Error(t, err)
}
