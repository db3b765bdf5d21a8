package holder

import (
	"encoding/binary"
	"testing"

	"solana-holder-watch/internal/solana"
)

func makeOwner(t *testing.T, b byte) solana.Pubkey {
	t.Helper()
	raw := make([]byte, solana.PubkeyLen)
	raw[0] = b
	owner, err := solana.PubkeyFromBytes(raw)
	if err != nil {
		t.Fatalf("make owner: %v", err)
	}
	return owner
}

func tokenAccount(owner solana.Pubkey, amount uint64) solana.Account {
	data := make([]byte, solana.TokenAccountSize)
	copy(data[32:64], owner[:])
	binary.LittleEndian.PutUint64(data[64:72], amount)
	return solana.Account{Pubkey: "acct", Data: data}
}

func TestExtractHolders_FiltersInvalidAndZeroBalance(t *testing.T) {
	owner := makeOwner(t, 9)

	accounts := []solana.Account{
		{Pubkey: "short", Data: make([]byte, 40)}, // below minimum length
		tokenAccount(makeOwner(t, 5), 0),          // zero balance
		tokenAccount(owner, 1_000_000),            // the only real holder
	}

	holders, err := ExtractHolders(accounts, nil)
	if err != nil {
		t.Fatalf("ExtractHolders: %v", err)
	}

	if len(holders) != 1 {
		t.Fatalf("expected 1 holder, got %d", len(holders))
	}
	if _, ok := holders[owner]; !ok {
		t.Error("expected the valid nonzero-balance owner in the set")
	}
}

func TestExtractHolders_DeduplicatesOwners(t *testing.T) {
	// One owner holding the token across three accounts counts once.
	owner := makeOwner(t, 3)
	accounts := []solana.Account{
		tokenAccount(owner, 10),
		tokenAccount(owner, 20),
		tokenAccount(owner, 30),
		tokenAccount(makeOwner(t, 4), 5),
	}

	holders, err := ExtractHolders(accounts, nil)
	if err != nil {
		t.Fatalf("ExtractHolders: %v", err)
	}
	if len(holders) != 2 {
		t.Errorf("expected 2 distinct holders, got %d", len(holders))
	}
}

func TestExtractHolders_DiscardsZeroOwner(t *testing.T) {
	// A nonzero balance with an all-zero owner is a corrupt or sentinel
	// record, not a holder.
	accounts := []solana.Account{
		tokenAccount(solana.Pubkey{}, 500),
	}

	holders, err := ExtractHolders(accounts, nil)
	if err != nil {
		t.Fatalf("ExtractHolders: %v", err)
	}
	if len(holders) != 0 {
		t.Errorf("expected empty holder set, got %d", len(holders))
	}
}

func TestExtractHolders_EmptyBatch(t *testing.T) {
	holders, err := ExtractHolders(nil, nil)
	if err != nil {
		t.Fatalf("ExtractHolders: %v", err)
	}
	if len(holders) != 0 {
		t.Errorf("expected empty set, got %d", len(holders))
	}
}

func TestExtractHolders_ExactMinimumLength(t *testing.T) {
	// 72 bytes is just enough for owner + amount even though a full token
	// account is 165 bytes.
	owner := makeOwner(t, 8)
	data := make([]byte, minAccountLen)
	copy(data[32:64], owner[:])
	binary.LittleEndian.PutUint64(data[64:72], 1)

	holders, err := ExtractHolders([]solana.Account{{Pubkey: "tight", Data: data}}, nil)
	if err != nil {
		t.Fatalf("ExtractHolders: %v", err)
	}
	if _, ok := holders[owner]; !ok {
		t.Error("expected holder from minimum-length record")
	}
}
