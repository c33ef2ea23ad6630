package crypto

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// Signer signs serialized Solana transactions with one wallet key. The
// key never leaves the Signer.
type Signer struct {
	key solana.PrivateKey
	pub solana.PublicKey
}

// NewSigner wraps key.
func NewSigner(key solana.PrivateKey) *Signer {
	return &Signer{key: key, pub: key.PublicKey()}
}

// PublicIdentity returns the wallet address in base58.
func (s *Signer) PublicIdentity() string {
	return s.pub.String()
}

// PublicKey returns the wallet public key.
func (s *Signer) PublicKey() solana.PublicKey {
	return s.pub
}

// Sign parses payload as a wire-format transaction, adds this wallet's
// signature and returns the re-serialized transaction.
func (s *Signer) Sign(_ context.Context, payload []byte) ([]byte, error) {
	tx, err := solana.TransactionFromBytes(payload)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode transaction: %w", err)
	}
	// The aggregator returns zeroed placeholder signatures.
	tx.Signatures = nil
	if _, err := tx.Sign(func(pub solana.PublicKey) *solana.PrivateKey {
		if pub.Equals(s.pub) {
			return &s.key
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("crypto: sign transaction: %w", err)
	}
	out, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("crypto: encode transaction: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.Signer = (*Signer)(nil)
