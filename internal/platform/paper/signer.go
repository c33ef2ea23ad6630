package paper

import (
	"context"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// Signer is a wallet identity for the simulator. Paper orders need no
// signature, so Sign returns the payload unchanged.
type Signer struct {
	identity string
}

// NewSigner creates a paper wallet with the given identity.
func NewSigner(identity string) *Signer {
	return &Signer{identity: identity}
}

// PublicIdentity implements domain.Signer.
func (s *Signer) PublicIdentity() string { return s.identity }

// Sign implements domain.Signer.
func (s *Signer) Sign(_ context.Context, payload []byte) ([]byte, error) {
	return append([]byte(nil), payload...), nil
}

var _ domain.Signer = (*Signer)(nil)
