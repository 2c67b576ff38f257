// Package txprep builds unsigned transaction payloads for client-side
// signing. It is a pure encoder: no key custody, no signing, no submission.
package txprep

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/lanternhq/lantern/internal/auth"
)

// Side is the order direction
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

var (
	ErrInvalidSide   = errors.New("invalid order side")
	ErrInvalidPrice  = errors.New("price must be in (0, 1)")
	ErrInvalidSize   = errors.New("size must be positive")
	ErrMissingMarket = errors.New("condition id and token id are required")
)

// OrderRequest is the client's intent to trade one outcome token
type OrderRequest struct {
	Wallet      string          `json:"wallet"`
	ConditionID string          `json:"condition_id"`
	TokenID     string          `json:"token_id"`
	Side        Side            `json:"side"`
	Price       decimal.Decimal `json:"price"`
	Size        decimal.Decimal `json:"size"`
	ExpiresAt   int64           `json:"expires_at"` // epoch millis, 0 = GTC
}

// UnsignedTx is the deterministic payload handed back for signing. Digest is
// the hash the wallet signs; Payload is the canonical encoding it covers.
type UnsignedTx struct {
	Payload string `json:"payload"`
	Digest  string `json:"digest"`
}

// Encoder prepares unsigned transactions
type Encoder struct{}

func NewEncoder() *Encoder {
	return &Encoder{}
}

// Prepare validates the request and encodes it deterministically. The same
// request always yields byte-identical output.
func (e *Encoder) Prepare(req OrderRequest) (*UnsignedTx, error) {
	if !auth.ValidWallet(req.Wallet) {
		return nil, auth.ErrInvalidWallet
	}
	if req.ConditionID == "" || req.TokenID == "" {
		return nil, ErrMissingMarket
	}
	if req.Side != SideBuy && req.Side != SideSell {
		return nil, ErrInvalidSide
	}
	one := decimal.NewFromInt(1)
	if !req.Price.IsPositive() || req.Price.GreaterThanOrEqual(one) {
		return nil, ErrInvalidPrice
	}
	if !req.Size.IsPositive() {
		return nil, ErrInvalidSize
	}

	// Canonical form: fixed field order, normalized decimal strings,
	// lower-cased hex identifiers
	canonical := struct {
		Wallet      string `json:"wallet"`
		ConditionID string `json:"condition_id"`
		TokenID     string `json:"token_id"`
		Side        string `json:"side"`
		Price       string `json:"price"`
		Size        string `json:"size"`
		ExpiresAt   int64  `json:"expires_at"`
	}{
		Wallet:      strings.ToLower(req.Wallet),
		ConditionID: strings.ToLower(req.ConditionID),
		TokenID:     req.TokenID,
		Side:        string(req.Side),
		Price:       req.Price.String(),
		Size:        req.Size.String(),
		ExpiresAt:   req.ExpiresAt,
	}

	payload, err := json.Marshal(canonical)
	if err != nil {
		return nil, fmt.Errorf("failed to encode order: %w", err)
	}

	digest := sha256.Sum256(payload)
	return &UnsignedTx{
		Payload: string(payload),
		Digest:  hex.EncodeToString(digest[:]),
	}, nil
}
