package token

import (
	"errors"
	"testing"

	"github.com/bsv-blockchain-demos/utility-tokens/pkg/crypto"
)

func TestSpendInstructions_RoundTrip(t *testing.T) {
	si := NewSpendInstructions("a2V5aWQ=", "02aa")
	s, err := si.Encode()
	if err != nil {
		t.Fatal(err)
	}
	got, err := ParseSpendInstructions(s)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got != si {
		t.Errorf("got %+v, want %+v", got, si)
	}
	args := got.KeyArgs()
	if args.Protocol != Protocol || args.KeyID != "a2V5aWQ=" || args.Counterparty != "02aa" {
		t.Errorf("KeyArgs = %+v", args)
	}
}

func TestParseSpendInstructions_Unversioned(t *testing.T) {
	got, err := ParseSpendInstructions(`{"protocolID":[2,"tokendemo"],"keyID":"abc","counterparty":"self"}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.Version != InstructionsVersion {
		t.Errorf("version = %d, want %d", got.Version, InstructionsVersion)
	}
	if got.Protocol != (crypto.Protocol{SecurityLevel: 2, Name: "tokendemo"}) {
		t.Errorf("protocol = %+v", got.Protocol)
	}
}

func TestParseSpendInstructions_Errors(t *testing.T) {
	for _, s := range []string{
		"",
		"not json",
		`{"version":2,"protocolID":[2,"tokendemo"],"keyID":"abc","counterparty":"self"}`,
		`{"protocolID":[2,"tokendemo"],"counterparty":"self"}`,
		`{"protocolID":[2,"tokendemo"],"keyID":"abc"}`,
		`{"protocolID":[9,"tokendemo"],"keyID":"abc","counterparty":"self"}`,
		`{"protocolID":"tokendemo","keyID":"abc","counterparty":"self"}`,
	} {
		if _, err := ParseSpendInstructions(s); !errors.Is(err, ErrInstructions) {
			t.Errorf("Parse(%q) err = %v, want ErrInstructions", s, err)
		}
	}
}
