package token

import (
	"context"
	"testing"

	"github.com/bsv-blockchain-demos/utility-tokens/internal/ledger"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/storage"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/wallet"
	"github.com/bsv-blockchain-demos/utility-tokens/pkg/crypto"
	"github.com/bsv-blockchain-demos/utility-tokens/pkg/script"
	"github.com/bsv-blockchain-demos/utility-tokens/pkg/types"
)

func makeOutpoint(data string, index uint32) types.Outpoint {
	return types.Outpoint{TxID: crypto.Hash([]byte(data)), Index: index}
}

func labelMeta(label string) []Field {
	return []Field{{ID: LabelFieldID, Name: LabelFieldID, Value: label}}
}

// lockRecord builds a record locking script for a throwaway key.
func lockRecord(t *testing.T, identity string, amount uint64, metadata []Field) []byte {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	fields, err := EncodeRecord([]byte(identity), amount, metadata)
	if err != nil {
		t.Fatalf("EncodeRecord: %v", err)
	}
	lock, err := script.Lock(key.PublicKey(), fields)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	return lock
}

func testInstructions(t *testing.T) string {
	t.Helper()
	s, err := NewSpendInstructions("a2V5aWQ=", crypto.CounterpartySelf).Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return s
}

func makeSpendable(id types.TokenID, seed string, amount uint64) Spendable {
	return Spendable{
		Outpoint: makeOutpoint(seed, 0),
		Identity: id,
		Record:   &Record{Identity: []byte(id), Amount: amount},
	}
}

type testEnv struct {
	ledger *ledger.Ledger
	alice  *wallet.LocalWallet
	bob    *wallet.LocalWallet
	minter *Builder
}

// newTestEnv wires two local wallets to one ledger.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	l, err := ledger.New(storage.NewMemory())
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}
	newWallet := func() *wallet.LocalWallet {
		key, err := crypto.GenerateKey()
		if err != nil {
			t.Fatalf("GenerateKey: %v", err)
		}
		w, err := wallet.NewLocal(key, storage.NewMemory(), l)
		if err != nil {
			t.Fatalf("NewLocal: %v", err)
		}
		return w
	}
	alice := newWallet()
	return &testEnv{ledger: l, alice: alice, bob: newWallet(), minter: NewBuilder(alice)}
}

func (e *testEnv) aggregate(t *testing.T, w wallet.Interface) (Balances, *Index) {
	t.Helper()
	raw, err := ListRawOutputs(context.Background(), w)
	if err != nil {
		t.Fatalf("ListRawOutputs: %v", err)
	}
	bal, ix := Aggregate(raw)
	return bal, ix
}
