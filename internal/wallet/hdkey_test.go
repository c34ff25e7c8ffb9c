package wallet

import (
	"bytes"
	"testing"
)

func testSeed(t *testing.T) []byte {
	t.Helper()
	seed, err := SeedFromMnemonic(testMnemonic, "TREZOR")
	if err != nil {
		t.Fatalf("SeedFromMnemonic() error: %v", err)
	}
	return seed
}

func TestNewMasterKey_InvalidSeedLength(t *testing.T) {
	for _, n := range []int{0, 32, 65} {
		if _, err := NewMasterKey(make([]byte, n)); err == nil {
			t.Errorf("NewMasterKey(%d bytes) should fail", n)
		}
	}
}

func TestDerivePath(t *testing.T) {
	master, err := NewMasterKey(testSeed(t))
	if err != nil {
		t.Fatalf("NewMasterKey() error: %v", err)
	}

	a, err := master.DerivePath(IdentityPath...)
	if err != nil {
		t.Fatalf("DerivePath() error: %v", err)
	}
	b, _ := master.DerivePath(IdentityPath...)
	if !bytes.Equal(a.PublicKeyBytes(), b.PublicKeyBytes()) {
		t.Error("derivation should be deterministic")
	}
	if bytes.Equal(a.PublicKeyBytes(), master.PublicKeyBytes()) {
		t.Error("derived key should differ from master")
	}
	if len(a.PublicKeyBytes()) != 33 {
		t.Errorf("public key length = %d, want 33", len(a.PublicKeyBytes()))
	}
}

func TestIdentityKeyFromSeed(t *testing.T) {
	seed := testSeed(t)
	key, err := IdentityKeyFromSeed(seed)
	if err != nil {
		t.Fatalf("IdentityKeyFromSeed() error: %v", err)
	}

	master, _ := NewMasterKey(seed)
	hd, _ := master.DerivePath(IdentityPath...)
	if !bytes.Equal(key.PublicKey(), hd.PublicKeyBytes()) {
		t.Error("identity key should be the key at IdentityPath")
	}

	other, _ := SeedFromMnemonic(testMnemonic, "")
	otherKey, _ := IdentityKeyFromSeed(other)
	if bytes.Equal(key.PublicKey(), otherKey.PublicKey()) {
		t.Error("different seeds should give different identity keys")
	}
}
