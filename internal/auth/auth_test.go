package auth_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanternhq/lantern/internal/auth"
)

const wallet = "0x1234567890abcdef1234567890ABCDEF12345678"

func TestValidWallet(t *testing.T) {
	assert.True(t, auth.ValidWallet(wallet))
	assert.False(t, auth.ValidWallet("0x123"))                                           // too short
	assert.False(t, auth.ValidWallet("1234567890abcdef1234567890abcdef12345678"))        // missing prefix
	assert.False(t, auth.ValidWallet("0x1234567890abcdef1234567890abcdef1234567g"))      // non-hex
	assert.False(t, auth.ValidWallet("0x1234567890abcdef1234567890abcdef123456789abc")) // too long
}

func TestNonceSingleUse(t *testing.T) {
	svc := auth.NewNonceService(time.Minute, zerolog.Nop())

	nonce, err := svc.Issue(wallet)
	require.NoError(t, err)
	require.Len(t, nonce, 64)

	require.NoError(t, svc.Consume(wallet, nonce))
	assert.ErrorIs(t, svc.Consume(wallet, nonce), auth.ErrUnknownNonce)
}

func TestReissueReplacesNonce(t *testing.T) {
	svc := auth.NewNonceService(time.Minute, zerolog.Nop())

	first, err := svc.Issue(wallet)
	require.NoError(t, err)
	second, err := svc.Issue(wallet)
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	assert.ErrorIs(t, svc.Consume(wallet, first), auth.ErrUnknownNonce)
	assert.NoError(t, svc.Consume(wallet, second))
}

func TestWrongNonceLeavesOutstandingIntact(t *testing.T) {
	svc := auth.NewNonceService(time.Minute, zerolog.Nop())

	nonce, err := svc.Issue(wallet)
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Consume(wallet, "deadbeef"), auth.ErrUnknownNonce)
	assert.NoError(t, svc.Consume(wallet, nonce))
}

func TestExpiredNonceRejected(t *testing.T) {
	svc := auth.NewNonceService(50*time.Millisecond, zerolog.Nop())

	nonce, err := svc.Issue(wallet)
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)
	assert.ErrorIs(t, svc.Consume(wallet, nonce), auth.ErrUnknownNonce)
}

func TestInvalidWalletRejectedEverywhere(t *testing.T) {
	svc := auth.NewNonceService(time.Minute, zerolog.Nop())

	_, err := svc.Issue("nope")
	assert.ErrorIs(t, err, auth.ErrInvalidWallet)
	assert.ErrorIs(t, svc.Consume("nope", "x"), auth.ErrInvalidWallet)
}
