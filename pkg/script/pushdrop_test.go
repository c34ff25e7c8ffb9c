package script

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func testPubKey() []byte {
	pk := make([]byte, 33)
	pk[0] = 0x02
	for i := 1; i < 33; i++ {
		pk[i] = byte(i)
	}
	return pk
}

func TestLockDecode(t *testing.T) {
	amount := binary.LittleEndian.AppendUint64(nil, 10000)
	fields := [][]byte{
		[]byte("___mint___"),
		amount,
		[]byte(`[{"id":"label","name":"label","value":"Credits"}]`),
	}

	lock, err := Lock(testPubKey(), fields)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	// OP_2DROP OP_DROP closes a three-field script.
	if lock[len(lock)-2] != 0x6d || lock[len(lock)-1] != 0x75 {
		t.Errorf("script should end with OP_2DROP OP_DROP, got %x", lock[len(lock)-2:])
	}

	pd, err := Decode(lock)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(pd.PubKey, testPubKey()) {
		t.Error("pubkey mismatch")
	}
	if len(pd.Fields) != 3 {
		t.Fatalf("fields = %d, want 3", len(pd.Fields))
	}
	for i := range fields {
		if !bytes.Equal(pd.Fields[i], fields[i]) {
			t.Errorf("field %d = %x, want %x", i, pd.Fields[i], fields[i])
		}
	}
}

func TestLockDecode_EmptyAndLargeFields(t *testing.T) {
	large := bytes.Repeat([]byte{0xab}, 300)
	lock, err := Lock(testPubKey(), [][]byte{{}, large})
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	pd, err := Decode(lock)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(pd.Fields[0]) != 0 {
		t.Errorf("empty field decoded as %x", pd.Fields[0])
	}
	if !bytes.Equal(pd.Fields[1], large) {
		t.Error("large field mismatch")
	}
}

func TestLock_BadPubKey(t *testing.T) {
	if _, err := Lock([]byte{0x02}, nil); !errors.Is(err, ErrBadPubKeySize) {
		t.Errorf("error = %v, want ErrBadPubKeySize", err)
	}
}

func TestDecode_Rejects(t *testing.T) {
	good, _ := Lock(testPubKey(), [][]byte{{0x01}, {0x02}, {0x03}})

	tests := []struct {
		name   string
		script []byte
	}{
		{"empty", nil},
		{"no checksig", good[:34]},
		{"missing drop", good[:len(good)-1]},
		{"extra opcode", append(append([]byte(nil), good...), 0x75)},
		{"short pubkey", []byte{0x01, 0x02, 0xac}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.script); !errors.Is(err, ErrNotPushDrop) {
				t.Errorf("Decode() error = %v, want ErrNotPushDrop", err)
			}
		})
	}
}

func TestUnlockSignature(t *testing.T) {
	sig := bytes.Repeat([]byte{0x30}, 64)
	unlock, err := Unlock(sig)
	if err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	got, err := Signature(unlock)
	if err != nil {
		t.Fatalf("Signature: %v", err)
	}
	if !bytes.Equal(got, sig) {
		t.Error("signature mismatch")
	}

	if _, err := Signature(append(unlock, 0x75)); !errors.Is(err, ErrBadUnlock) {
		t.Errorf("trailing opcode error = %v, want ErrBadUnlock", err)
	}
}
