package solana

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// PumpProgramID is the pump.fun bonding curve program.
var PumpProgramID = solana.MustPublicKeyFromBase58("6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P")

// curveState is the bonding curve account after the 8-byte discriminator.
type curveState struct {
	VirtualTokenReserves uint64
	VirtualSolReserves   uint64
	RealTokenReserves    uint64
	RealSolReserves      uint64
	TokenTotalSupply     uint64
	Complete             bool
}

const curveAccountMinLen = 49

func decodeCurve(data []byte) (curveState, error) {
	if len(data) < curveAccountMinLen {
		return curveState{}, fmt.Errorf("bonding curve account too short: %d bytes", len(data))
	}
	le := binary.LittleEndian
	return curveState{
		VirtualTokenReserves: le.Uint64(data[8:16]),
		VirtualSolReserves:   le.Uint64(data[16:24]),
		RealTokenReserves:    le.Uint64(data[24:32]),
		RealSolReserves:      le.Uint64(data[32:40]),
		TokenTotalSupply:     le.Uint64(data[40:48]),
		Complete:             data[48] != 0,
	}, nil
}

// price returns SOL per whole token.
func (c curveState) price(decimals int) (float64, bool) {
	if c.VirtualTokenReserves == 0 {
		return 0, false
	}
	sol := float64(c.VirtualSolReserves) / lamportsPerSOL
	tok := float64(c.VirtualTokenReserves) / float64(pow10(decimals))
	return sol / tok, true
}

// CurvePrices marks positions from the bonding curve account while a token
// trades on it, and from a Jupiter quote once the curve completes.
type CurvePrices struct {
	venue   *Venue
	program solana.PublicKey
}

// NewCurvePrices creates a price source backed by v's RPC node and Jupiter
// client.
func NewCurvePrices(v *Venue) *CurvePrices {
	return &CurvePrices{venue: v, program: PumpProgramID}
}

// Price implements domain.PriceSource.
func (p *CurvePrices) Price(ctx context.Context, mint string) (float64, error) {
	pk, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return 0, fmt.Errorf("solana: price %s: %w", mint, domain.ErrPriceUnavailable)
	}

	if px, ok := p.curvePrice(ctx, pk); ok {
		return px, nil
	}

	px, err := p.venue.jupiter.QuotePrice(ctx, mint, p.venue.cfg.TokenDecimals)
	if err != nil {
		return 0, fmt.Errorf("solana: price %s: %v: %w", mint, err, domain.ErrPriceUnavailable)
	}
	return px, nil
}

func (p *CurvePrices) curvePrice(ctx context.Context, mint solana.PublicKey) (float64, bool) {
	addr, _, err := solana.FindProgramAddress([][]byte{[]byte("bonding-curve"), mint.Bytes()}, p.program)
	if err != nil {
		return 0, false
	}
	if err := p.venue.limiter.Wait(ctx); err != nil {
		return 0, false
	}
	info, err := p.venue.rpc.GetAccountInfo(ctx, addr)
	if err != nil || info == nil || info.Value == nil {
		return 0, false
	}
	st, err := decodeCurve(info.Value.Data.GetBinary())
	if err != nil || st.Complete {
		return 0, false
	}
	return st.price(p.venue.cfg.TokenDecimals)
}
