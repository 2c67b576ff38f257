package txprep_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanternhq/lantern/internal/auth"
	"github.com/lanternhq/lantern/internal/txprep"
)

func validRequest() txprep.OrderRequest {
	return txprep.OrderRequest{
		Wallet:      "0x1234567890ABCDEF1234567890abcdef12345678",
		ConditionID: "0xCOND",
		TokenID:     "tok-yes",
		Side:        txprep.SideBuy,
		Price:       decimal.RequireFromString("0.45"),
		Size:        decimal.RequireFromString("100"),
		ExpiresAt:   1700000000000,
	}
}

func TestPrepareIsDeterministic(t *testing.T) {
	enc := txprep.NewEncoder()

	first, err := enc.Prepare(validRequest())
	require.NoError(t, err)
	second, err := enc.Prepare(validRequest())
	require.NoError(t, err)

	assert.Equal(t, first.Payload, second.Payload)
	assert.Equal(t, first.Digest, second.Digest)
	assert.Len(t, first.Digest, 64)
}

func TestPrepareNormalizesCase(t *testing.T) {
	enc := txprep.NewEncoder()

	upper := validRequest()
	lower := validRequest()
	lower.Wallet = "0x1234567890abcdef1234567890abcdef12345678"
	lower.ConditionID = "0xcond"

	a, err := enc.Prepare(upper)
	require.NoError(t, err)
	b, err := enc.Prepare(lower)
	require.NoError(t, err)
	assert.Equal(t, a.Digest, b.Digest)
}

func TestPrepareValidation(t *testing.T) {
	enc := txprep.NewEncoder()

	bad := validRequest()
	bad.Wallet = "not-a-wallet"
	_, err := enc.Prepare(bad)
	assert.ErrorIs(t, err, auth.ErrInvalidWallet)

	bad = validRequest()
	bad.TokenID = ""
	_, err = enc.Prepare(bad)
	assert.ErrorIs(t, err, txprep.ErrMissingMarket)

	bad = validRequest()
	bad.Side = "HOLD"
	_, err = enc.Prepare(bad)
	assert.ErrorIs(t, err, txprep.ErrInvalidSide)

	bad = validRequest()
	bad.Price = decimal.RequireFromString("1.0")
	_, err = enc.Prepare(bad)
	assert.ErrorIs(t, err, txprep.ErrInvalidPrice)

	bad = validRequest()
	bad.Price = decimal.RequireFromString("0")
	_, err = enc.Prepare(bad)
	assert.ErrorIs(t, err, txprep.ErrInvalidPrice)

	bad = validRequest()
	bad.Size = decimal.RequireFromString("-5")
	_, err = enc.Prepare(bad)
	assert.ErrorIs(t, err, txprep.ErrInvalidSize)
}
