package solana

import (
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// PubkeyLen is the byte length of a Solana public key.
const PubkeyLen = 32

// Pubkey is a 32-byte Solana public key, compared by value.
type Pubkey [PubkeyLen]byte

// ParsePubkey decodes a base58-encoded public key.
func ParsePubkey(s string) (Pubkey, error) {
	var pk Pubkey
	decoded, err := base58.Decode(s)
	if err != nil {
		return pk, fmt.Errorf("%w: %q: %v", ErrInvalidMint, s, err)
	}
	if len(decoded) != PubkeyLen {
		return pk, fmt.Errorf("%w: %q: expected %d bytes, got %d", ErrInvalidMint, s, PubkeyLen, len(decoded))
	}
	copy(pk[:], decoded)
	return pk, nil
}

// PubkeyFromBytes copies b into a Pubkey. b must be exactly 32 bytes.
func PubkeyFromBytes(b []byte) (Pubkey, error) {
	var pk Pubkey
	if len(b) != PubkeyLen {
		return pk, fmt.Errorf("pubkey must be %d bytes, got %d", PubkeyLen, len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

// String returns the base58 encoding.
func (p Pubkey) String() string {
	return base58.Encode(p[:])
}

// IsZero reports whether p is the all-zero (default) key.
func (p Pubkey) IsZero() bool {
	return p == Pubkey{}
}

// OnCurve reports whether p is a valid ed25519 curve point.
// Program-derived addresses are intentionally off-curve, so this
// distinguishes wallet keys from PDAs.
func (p Pubkey) OnCurve() bool {
	_, err := new(edwards25519.Point).SetBytes(p[:])
	return err == nil
}
