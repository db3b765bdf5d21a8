// Package holder derives holder counts and statistics from raw SPL token
// account records.
package holder

import (
	"encoding/binary"

	"go.uber.org/zap"

	"solana-holder-watch/internal/solana"
)

// SPL token account layout: mint(32) + owner(32) + amount(8) + ...
const (
	ownerOffset   = 32
	amountOffset  = 64
	minAccountLen = amountOffset + 8
)

// ExtractHolders returns the set of distinct owners holding a nonzero balance.
// Malformed individual records are skipped, never escalated: one corrupt
// account must not abort the batch. The error return is kept for forward
// compatibility and is always nil today.
func ExtractHolders(accounts []solana.Account, logger *zap.Logger) (map[solana.Pubkey]struct{}, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	holders := make(map[solana.Pubkey]struct{})
	zeroBalance := 0
	offCurve := 0

	for _, acc := range accounts {
		if len(acc.Data) < minAccountLen {
			logger.Debug("skipping token account with short data",
				zap.String("pubkey", acc.Pubkey),
				zap.Int("len", len(acc.Data)))
			continue
		}

		amount := binary.LittleEndian.Uint64(acc.Data[amountOffset : amountOffset+8])
		if amount == 0 {
			zeroBalance++
			continue
		}

		owner, err := solana.PubkeyFromBytes(acc.Data[ownerOffset : ownerOffset+solana.PubkeyLen])
		if err != nil || owner.IsZero() {
			logger.Debug("skipping token account with invalid owner",
				zap.String("pubkey", acc.Pubkey))
			continue
		}

		if !owner.OnCurve() {
			offCurve++
		}
		holders[owner] = struct{}{}
	}

	logger.Info("extracted holders",
		zap.Int("holders", len(holders)),
		zap.Int("zero_balance_filtered", zeroBalance),
		zap.Int("program_derived_owners", offCurve))

	return holders, nil
}
