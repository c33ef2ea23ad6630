package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

const lamportsPerSOL = 1e9

// VenueConfig configures the live venue.
type VenueConfig struct {
	RPCURL string
	// RPCRPS throttles calls to the RPC node. Zero disables throttling.
	RPCRPS              float64
	TokenDecimals       int
	PriorityFeeLamports uint64
	// JitoTipLamports is paid inside the swap transaction when positive,
	// which makes every prepared order bundle-ready.
	JitoTipLamports uint64
	ConfirmTimeout  time.Duration
	ConfirmPoll     time.Duration
	// QuoteTTL is how long a prepared order is considered fresh. A recent
	// blockhash is valid for roughly 60 seconds.
	QuoteTTL time.Duration
}

// Venue implements domain.Venue on Solana mainnet.
type Venue struct {
	rpc     *rpc.Client
	jupiter *JupiterClient
	jito    *JitoClient
	limiter *rate.Limiter
	cfg     VenueConfig
	logger  *slog.Logger
}

// NewVenue creates a live venue. jito may be nil when bundles are disabled.
func NewVenue(cfg VenueConfig, jupiter *JupiterClient, jito *JitoClient, logger *slog.Logger) *Venue {
	if cfg.TokenDecimals <= 0 {
		cfg.TokenDecimals = 6
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 30 * time.Second
	}
	if cfg.ConfirmPoll <= 0 {
		cfg.ConfirmPoll = 500 * time.Millisecond
	}
	if cfg.QuoteTTL <= 0 {
		cfg.QuoteTTL = 45 * time.Second
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if cfg.RPCRPS > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RPCRPS), max(1, int(cfg.RPCRPS)))
	}
	return &Venue{
		rpc:     rpc.New(cfg.RPCURL),
		jupiter: jupiter,
		jito:    jito,
		limiter: lim,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "solana_venue")),
	}
}

// Prepare quotes the swap on Jupiter and fetches the unsigned transaction.
// Buys spend Amount SOL; sells spend Amount tokens.
func (v *Venue) Prepare(ctx context.Context, intent domain.OrderIntent) (*domain.PreparedOrder, error) {
	if intent.Amount <= 0 || math.IsNaN(intent.Amount) {
		return nil, fmt.Errorf("solana: prepare: %w", domain.ErrInvalidOrder)
	}

	var (
		inMint, outMint string
		inScale         float64
		outScale        float64
	)
	tokenScale := float64(pow10(v.cfg.TokenDecimals))
	switch intent.Side {
	case domain.SideBuy:
		inMint, outMint = NativeMint, intent.Instrument
		inScale, outScale = lamportsPerSOL, tokenScale
	case domain.SideSell:
		inMint, outMint = intent.Instrument, NativeMint
		inScale, outScale = tokenScale, lamportsPerSOL
	default:
		return nil, fmt.Errorf("solana: prepare: side %q: %w", intent.Side, domain.ErrInvalidOrder)
	}

	amount := uint64(math.Floor(intent.Amount * inScale))
	if amount == 0 {
		return nil, fmt.Errorf("solana: prepare: amount below one base unit: %w", domain.ErrInvalidOrder)
	}

	q, err := v.jupiter.Quote(ctx, inMint, outMint, amount, intent.SlippageBps)
	if err != nil {
		return nil, fmt.Errorf("solana: prepare: %w", err)
	}
	inBase, err := q.In()
	if err != nil {
		return nil, fmt.Errorf("solana: prepare: parse in amount: %w", err)
	}
	outBase, err := q.Out()
	if err != nil {
		return nil, fmt.Errorf("solana: prepare: parse out amount: %w", err)
	}

	payload, err := v.jupiter.Swap(ctx, q, intent.Owner, SwapFee{
		PriorityLamports: v.cfg.PriorityFeeLamports,
		JitoTipLamports:  v.cfg.JitoTipLamports,
	})
	if err != nil {
		return nil, fmt.Errorf("solana: prepare: %w", err)
	}

	in := float64(inBase) / inScale
	out := float64(outBase) / outScale
	var price float64
	if intent.Side == domain.SideBuy {
		price = in / out
	} else {
		price = out / in
	}

	return &domain.PreparedOrder{
		Payload:   payload,
		InAmount:  in,
		OutAmount: out,
		Price:     price,
		ExpiresAt: time.Now().Add(v.cfg.QuoteTTL),
	}, nil
}

// Broadcast sends a signed transaction to the RPC node and polls its
// signature status until it is confirmed, fails, or ConfirmTimeout passes.
func (v *Venue) Broadcast(ctx context.Context, signed []byte) (string, error) {
	tx, err := solana.TransactionFromBytes(signed)
	if err != nil {
		return "", fmt.Errorf("solana: broadcast: decode transaction: %w", err)
	}
	if err := v.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("solana: broadcast: %w", err)
	}

	sig, err := v.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       true,
		PreflightCommitment: rpc.CommitmentProcessed,
	})
	if err != nil {
		return "", fmt.Errorf("solana: broadcast: send: %w", err)
	}
	v.logger.DebugContext(ctx, "transaction sent", slog.String("signature", sig.String()))

	if err := v.awaitConfirmation(ctx, sig); err != nil {
		return sig.String(), err
	}
	return sig.String(), nil
}

func (v *Venue) awaitConfirmation(ctx context.Context, sig solana.Signature) error {
	ctx, cancel := context.WithTimeout(ctx, v.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(v.cfg.ConfirmPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("solana: broadcast %s: %w", sig, domain.ErrConfirmationTimeout)
			}
			return ctx.Err()
		case <-ticker.C:
		}

		if err := v.limiter.Wait(ctx); err != nil {
			continue
		}
		statuses, err := v.rpc.GetSignatureStatuses(ctx, true, sig)
		if err != nil {
			v.logger.DebugContext(ctx, "signature status poll failed", slog.String("error", err.Error()))
			continue
		}
		if statuses == nil || len(statuses.Value) == 0 || statuses.Value[0] == nil {
			continue
		}
		st := statuses.Value[0]
		if st.Err != nil {
			return fmt.Errorf("solana: transaction %s failed: %v", sig, st.Err)
		}
		if st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
			st.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
			return nil
		}
	}
}

// SubmitBundle sends the signed transaction through the Jito block engine.
func (v *Venue) SubmitBundle(ctx context.Context, signed []byte) (string, error) {
	if v.jito == nil {
		return "", errors.New("solana: bundle submission not configured")
	}
	return v.jito.SendBundle(ctx, signed)
}

// BundleStatus polls the Jito block engine.
func (v *Venue) BundleStatus(ctx context.Context, bundleID string) (domain.BundleStatus, error) {
	if v.jito == nil {
		return domain.BundleStatus{}, errors.New("solana: bundle submission not configured")
	}
	return v.jito.BundleStatus(ctx, bundleID)
}

// Balance returns the SOL balance of identity.
func (v *Venue) Balance(ctx context.Context, identity string) (float64, error) {
	pk, err := solana.PublicKeyFromBase58(identity)
	if err != nil {
		return 0, fmt.Errorf("solana: balance: invalid address %q: %w", identity, err)
	}
	if err := v.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("solana: balance: %w", err)
	}
	res, err := v.rpc.GetBalance(ctx, pk, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("solana: balance %s: %w", identity, err)
	}
	return float64(res.Value) / lamportsPerSOL, nil
}

// Ping checks that the RPC node answers.
func (v *Venue) Ping(ctx context.Context) error {
	if _, err := v.rpc.GetHealth(ctx); err != nil {
		return fmt.Errorf("solana: rpc health: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.Venue = (*Venue)(nil)
