package solana

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// MintAuthorities reads the SPL mint account and reports whether the mint
// and freeze authorities are unset.
func (v *Venue) MintAuthorities(ctx context.Context, mint string) (mintRenounced, freezeDisabled bool, err error) {
	pk, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return false, false, fmt.Errorf("solana: mint %q: %w", mint, err)
	}
	if err := v.limiter.Wait(ctx); err != nil {
		return false, false, fmt.Errorf("solana: mint %s: %w", mint, err)
	}
	info, err := v.rpc.GetAccountInfo(ctx, pk)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return false, false, fmt.Errorf("solana: mint %s: %w", mint, domain.ErrNotFound)
		}
		return false, false, fmt.Errorf("solana: mint %s: %w", mint, err)
	}
	if info == nil || info.Value == nil {
		return false, false, fmt.Errorf("solana: mint %s: %w", mint, domain.ErrNotFound)
	}
	return decodeMintAuthorities(info.Value.Data.GetBinary())
}

// SPL mint layout: mint_authority COption<Pubkey> (4+32), supply u64,
// decimals u8, is_initialized bool, freeze_authority COption<Pubkey> (4+32).
const mintAccountLen = 82

func decodeMintAuthorities(data []byte) (mintRenounced, freezeDisabled bool, err error) {
	if len(data) < mintAccountLen {
		return false, false, fmt.Errorf("solana: mint account too short: %d bytes", len(data))
	}
	le := binary.LittleEndian
	mintRenounced = le.Uint32(data[0:4]) == 0
	freezeDisabled = le.Uint32(data[46:50]) == 0
	return mintRenounced, freezeDisabled, nil
}

// WalletActivity samples the most recent signatures of address. The oldest
// sampled block time approximates the wallet age.
func (v *Venue) WalletActivity(ctx context.Context, address string) (domain.WalletActivity, error) {
	pk, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return domain.WalletActivity{}, fmt.Errorf("solana: wallet %q: %w", address, err)
	}
	if err := v.limiter.Wait(ctx); err != nil {
		return domain.WalletActivity{}, fmt.Errorf("solana: wallet %s: %w", address, err)
	}
	limit := 100
	sigs, err := v.rpc.GetSignaturesForAddressWithOpts(ctx, pk, &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return domain.WalletActivity{}, fmt.Errorf("solana: wallet %s signatures: %w", address, err)
	}

	act := domain.WalletActivity{Transactions: len(sigs)}
	for i, s := range sigs {
		if s == nil {
			continue
		}
		if i < 20 && s.Memo != nil {
			memo := strings.ToLower(*s.Memo)
			if strings.Contains(memo, "create") || strings.Contains(memo, "mint") {
				act.TokenCreations++
			}
		}
		if s.BlockTime != nil {
			act.FirstSeen = s.BlockTime.Time()
		}
	}
	return act, nil
}
