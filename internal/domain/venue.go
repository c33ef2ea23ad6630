package domain

import "context"

// Signer is an opaque wallet identity.
type Signer interface {
	PublicIdentity() string
	Sign(ctx context.Context, payload []byte) ([]byte, error)
}

// Venue is the settlement substrate behind the execution channel.
type Venue interface {
	// Prepare builds a fresh unsigned submission. It is called once per
	// attempt so time-sensitive parameters are always current.
	Prepare(ctx context.Context, intent OrderIntent) (*PreparedOrder, error)
	// Broadcast sends a signed submission and waits for confirmation.
	Broadcast(ctx context.Context, signed []byte) (txID string, err error)
	// SubmitBundle sends a signed submission through the priority path and
	// returns a handle for BundleStatus.
	SubmitBundle(ctx context.Context, signed []byte) (bundleID string, err error)
	BundleStatus(ctx context.Context, bundleID string) (BundleStatus, error)
	Balance(ctx context.Context, identity string) (float64, error)
}

// PriceSource returns the current mark price of an instrument, or
// ErrPriceUnavailable.
type PriceSource interface {
	Price(ctx context.Context, instrument string) (float64, error)
}
