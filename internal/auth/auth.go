// Package auth issues single-use login nonces for wallet-based
// authentication. Signature verification itself is pluggable; this package
// owns nonce lifecycle and address validation only.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
)

// DefaultNonceTTL is how long an issued nonce stays redeemable
const DefaultNonceTTL = 300 * time.Second

var walletRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

var (
	ErrInvalidWallet = errors.New("invalid wallet address")
	ErrUnknownNonce  = errors.New("unknown or expired nonce")
)

// Verifier checks a signature over a nonce challenge. Implementations live
// outside this package.
type Verifier interface {
	Verify(wallet, nonce, signature string) (bool, error)
}

// NonceService issues and consumes single-use nonces keyed by wallet
type NonceService struct {
	nonces *gocache.Cache
	ttl    time.Duration
	log    zerolog.Logger
}

// NewNonceService creates a nonce service. ttl <= 0 uses the default.
func NewNonceService(ttl time.Duration, log zerolog.Logger) *NonceService {
	if ttl <= 0 {
		ttl = DefaultNonceTTL
	}
	return &NonceService{
		nonces: gocache.New(ttl, ttl),
		ttl:    ttl,
		log:    log.With().Str("component", "auth").Logger(),
	}
}

// ValidWallet reports whether s is a well-formed wallet address
func ValidWallet(s string) bool {
	return walletRe.MatchString(s)
}

// Issue creates a fresh nonce for a wallet, replacing any outstanding one
func (s *NonceService) Issue(wallet string) (string, error) {
	if !ValidWallet(wallet) {
		return "", ErrInvalidWallet
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	nonce := hex.EncodeToString(buf)

	s.nonces.Set(wallet, nonce, s.ttl)
	s.log.Debug().Str("wallet", wallet).Msg("Nonce issued")
	return nonce, nil
}

// Consume redeems a nonce. A nonce is single use: a successful consume
// removes it, a mismatch leaves the outstanding nonce intact.
func (s *NonceService) Consume(wallet, nonce string) error {
	if !ValidWallet(wallet) {
		return ErrInvalidWallet
	}

	stored, ok := s.nonces.Get(wallet)
	if !ok || stored.(string) != nonce {
		return ErrUnknownNonce
	}

	s.nonces.Delete(wallet)
	return nil
}
