package token

import (
	"math"
	"testing"

	"github.com/bsv-blockchain-demos/utility-tokens/pkg/types"
)

func TestAggregate(t *testing.T) {
	instr := testInstructions(t)
	mintOp := makeOutpoint("mint", 0)
	id := types.TokenID(mintOp.String())

	outputs := []RawOutput{
		{Outpoint: mintOp, LockingScript: lockRecord(t, MintSentinel, 1000, labelMeta("Gold")), CustomInstructions: instr},
		{Outpoint: makeOutpoint("recv", 0), LockingScript: lockRecord(t, string(id), 250, labelMeta("Gold")), CustomInstructions: instr},
		{Outpoint: makeOutpoint("other", 0), LockingScript: lockRecord(t, "other.1", 7, labelMeta("Silver")), CustomInstructions: instr},
		{Outpoint: makeOutpoint("junk", 0), LockingScript: []byte{0x51}, CustomInstructions: instr},
		{Outpoint: makeOutpoint("noinstr", 0), LockingScript: lockRecord(t, string(id), 99, nil), CustomInstructions: "{}"},
	}

	bal, ix := Aggregate(outputs)
	if len(bal) != 2 {
		t.Fatalf("balances = %d, want 2", len(bal))
	}
	gold := bal[id]
	if gold.Amount != 1250 || gold.Label != "Gold" || gold.Identity != id {
		t.Errorf("gold = %+v", gold)
	}
	if bal["other.1"].Amount != 7 || bal["other.1"].Label != "Silver" {
		t.Errorf("silver = %+v", bal["other.1"])
	}
	if n := len(ix.Records(id)); n != 2 {
		t.Errorf("gold records = %d, want 2", n)
	}
	if ix.Records(id)[0].Outpoint != mintOp {
		t.Error("records not in load order")
	}
}

func TestAggregate_UnlabeledAndZero(t *testing.T) {
	instr := testInstructions(t)
	bal, ix := Aggregate([]RawOutput{
		{Outpoint: makeOutpoint("a", 0), LockingScript: lockRecord(t, "z.0", 0, nil), CustomInstructions: instr},
	})
	if b := bal["z.0"]; b.Amount != 0 || b.Label != UnknownLabel {
		t.Errorf("got %+v", b)
	}
	if len(ix.Records("z.0")) != 1 {
		t.Error("zero record not indexed")
	}
}

func TestAggregate_Overflow(t *testing.T) {
	instr := testInstructions(t)
	bal, ix := Aggregate([]RawOutput{
		{Outpoint: makeOutpoint("a", 0), LockingScript: lockRecord(t, "t.0", math.MaxUint64, nil), CustomInstructions: instr},
		{Outpoint: makeOutpoint("b", 0), LockingScript: lockRecord(t, "t.0", 1, nil), CustomInstructions: instr},
	})
	if bal["t.0"].Amount != math.MaxUint64 {
		t.Errorf("amount = %d, want max", bal["t.0"].Amount)
	}
	if len(ix.Records("t.0")) != 1 {
		t.Error("overflowing record was indexed")
	}
}

func TestAggregate_Empty(t *testing.T) {
	bal, ix := Aggregate(nil)
	if len(bal) != 0 || len(ix.Identities()) != 0 {
		t.Error("expected empty aggregation")
	}
}
