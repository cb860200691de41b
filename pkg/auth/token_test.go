package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagemint/pagemint-backend/pkg/config"
	"github.com/pagemint/pagemint-backend/pkg/enums"
)

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:            "test-secret",
		Issuer:            "pagemint-test",
		ExpirationMinutes: 15,
	}
}

func TestMintAndParseAccessToken(t *testing.T) {
	cfg := testJWTConfig()
	userID := uuid.New()

	signed, err := MintAccessToken(cfg, time.Now(), AccessTokenPayload{
		UserID: userID,
		Role:   enums.ActorRoleOperator,
	})
	require.NoError(t, err)
	require.NotEmpty(t, signed)

	claims, err := ParseAccessToken(cfg, signed)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, enums.ActorRoleOperator, claims.Role)
	assert.Equal(t, cfg.Issuer, claims.Issuer)
	assert.NotEmpty(t, claims.ID)
}

func TestMintAccessTokenValidation(t *testing.T) {
	now := time.Now()

	t.Run("missing secret", func(t *testing.T) {
		cfg := testJWTConfig()
		cfg.Secret = ""
		_, err := MintAccessToken(cfg, now, AccessTokenPayload{UserID: uuid.New(), Role: enums.ActorRoleUser})
		assert.Error(t, err)
	})

	t.Run("nil user id", func(t *testing.T) {
		_, err := MintAccessToken(testJWTConfig(), now, AccessTokenPayload{Role: enums.ActorRoleUser})
		assert.Error(t, err)
	})

	t.Run("invalid role", func(t *testing.T) {
		_, err := MintAccessToken(testJWTConfig(), now, AccessTokenPayload{UserID: uuid.New(), Role: enums.ActorRole("root")})
		assert.Error(t, err)
	})
}

func TestParseAccessTokenRejectsExpired(t *testing.T) {
	cfg := testJWTConfig()
	signed, err := MintAccessToken(cfg, time.Now().Add(-2*time.Hour), AccessTokenPayload{
		UserID: uuid.New(),
		Role:   enums.ActorRoleUser,
	})
	require.NoError(t, err)

	_, err = ParseAccessToken(cfg, signed)
	assert.Error(t, err)
}

func TestParseAccessTokenRejectsWrongIssuer(t *testing.T) {
	mintCfg := testJWTConfig()
	mintCfg.Issuer = "someone-else"
	signed, err := MintAccessToken(mintCfg, time.Now(), AccessTokenPayload{
		UserID: uuid.New(),
		Role:   enums.ActorRoleUser,
	})
	require.NoError(t, err)

	_, err = ParseAccessToken(testJWTConfig(), signed)
	assert.Error(t, err)
}

func TestParseAccessTokenRejectsTamperedSignature(t *testing.T) {
	cfg := testJWTConfig()
	signed, err := MintAccessToken(cfg, time.Now(), AccessTokenPayload{
		UserID: uuid.New(),
		Role:   enums.ActorRoleUser,
	})
	require.NoError(t, err)

	other := cfg
	other.Secret = "different-secret"
	_, err = ParseAccessToken(other, signed)
	assert.Error(t, err)
}
