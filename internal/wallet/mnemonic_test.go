package wallet

import (
	"encoding/hex"
	"strings"
	"testing"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestGenerateMnemonic(t *testing.T) {
	m1, err := GenerateMnemonic()
	if err != nil {
		t.Fatalf("GenerateMnemonic() error: %v", err)
	}
	if words := strings.Fields(m1); len(words) != 24 {
		t.Errorf("mnemonic has %d words, want 24", len(words))
	}
	if !ValidateMnemonic(m1) {
		t.Error("generated mnemonic should validate")
	}

	m2, _ := GenerateMnemonic()
	if m1 == m2 {
		t.Error("two generated mnemonics should differ")
	}
}

func TestValidateMnemonic(t *testing.T) {
	tests := []struct {
		name     string
		mnemonic string
		want     bool
	}{
		{"valid 12 words", testMnemonic, true},
		{"bad checksum", strings.Replace(testMnemonic, "about", "abandon", 1), false},
		{"unknown word", strings.Replace(testMnemonic, "about", "zzzz", 1), false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateMnemonic(tt.mnemonic); got != tt.want {
				t.Errorf("ValidateMnemonic() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSeedFromMnemonic_KnownVector(t *testing.T) {
	seed, err := SeedFromMnemonic(testMnemonic, "TREZOR")
	if err != nil {
		t.Fatalf("SeedFromMnemonic() error: %v", err)
	}
	want := "c55257c360c07c72029aebc1b53c05ed0362ada38ead3e3e9efa3708e53495531f09a6987599d18264c1e1c92f2cf141630c7a3c4ab7c81b2f001698e7463b04"
	if got := hex.EncodeToString(seed); got != want {
		t.Errorf("seed = %s, want %s", got, want)
	}

	other, _ := SeedFromMnemonic(testMnemonic, "")
	if hex.EncodeToString(other) == want {
		t.Error("passphrase should change the seed")
	}

	if _, err := SeedFromMnemonic("not a mnemonic", ""); err == nil {
		t.Error("SeedFromMnemonic() should reject an invalid mnemonic")
	}
}
