// Package script builds and parses the PushDrop locking template that carries
// token records.
//
// A PushDrop script is a pay-to-public-key output followed by data pushes
// that are dropped before the signature check completes:
//
//	<pubkey> OP_CHECKSIG <field 0> ... <field n-1> OP_2DROP ... [OP_DROP]
//
// It is spent with an unlocking script holding a single signature push.
package script

import (
	"errors"
	"fmt"

	sdkscript "github.com/bsv-blockchain/go-sdk/script"
)

var (
	ErrNotPushDrop   = errors.New("not a pushdrop script")
	ErrBadUnlock     = errors.New("malformed unlocking script")
	ErrBadPubKeySize = errors.New("public key must be 33 bytes")
)

// PushDrop is a decoded PushDrop locking script.
type PushDrop struct {
	PubKey []byte
	Fields [][]byte
}

// Lock builds a PushDrop locking script for pubKey carrying fields.
func Lock(pubKey []byte, fields [][]byte) ([]byte, error) {
	if len(pubKey) != 33 {
		return nil, fmt.Errorf("%w: got %d", ErrBadPubKeySize, len(pubKey))
	}
	s := &sdkscript.Script{}
	if err := s.AppendPushData(pubKey); err != nil {
		return nil, fmt.Errorf("push pubkey: %w", err)
	}
	if err := s.AppendOpcodes(sdkscript.OpCHECKSIG); err != nil {
		return nil, err
	}
	for i, f := range fields {
		if err := s.AppendPushData(f); err != nil {
			return nil, fmt.Errorf("push field %d: %w", i, err)
		}
	}
	for n := len(fields); n > 0; n -= 2 {
		var op byte = sdkscript.Op2DROP
		if n == 1 {
			op = sdkscript.OpDROP
		}
		if err := s.AppendOpcodes(op); err != nil {
			return nil, err
		}
	}
	return []byte(*s), nil
}

// Decode parses a PushDrop locking script.
func Decode(lockingScript []byte) (*PushDrop, error) {
	chunks, err := sdkscript.NewFromBytes(lockingScript).Chunks()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotPushDrop, err)
	}
	if len(chunks) < 2 || chunks[1].Op != sdkscript.OpCHECKSIG {
		return nil, fmt.Errorf("%w: missing pubkey checksig prefix", ErrNotPushDrop)
	}
	if len(chunks[0].Data) != 33 {
		return nil, fmt.Errorf("%w: %v", ErrNotPushDrop, ErrBadPubKeySize)
	}

	pd := &PushDrop{PubKey: append([]byte(nil), chunks[0].Data...)}
	i := 2
	for ; i < len(chunks); i++ {
		data, ok := pushValue(chunks[i])
		if !ok {
			break
		}
		pd.Fields = append(pd.Fields, data)
	}

	dropped := 0
	for ; i < len(chunks); i++ {
		switch chunks[i].Op {
		case sdkscript.Op2DROP:
			dropped += 2
		case sdkscript.OpDROP:
			dropped++
		default:
			return nil, fmt.Errorf("%w: unexpected opcode 0x%02x", ErrNotPushDrop, chunks[i].Op)
		}
	}
	if dropped != len(pd.Fields) {
		return nil, fmt.Errorf("%w: %d fields but %d dropped", ErrNotPushDrop, len(pd.Fields), dropped)
	}
	return pd, nil
}

// pushValue returns the bytes a data-pushing chunk places on the stack.
func pushValue(c *sdkscript.ScriptChunk) ([]byte, bool) {
	switch {
	case c.Op == sdkscript.Op0:
		return []byte{}, true
	case c.Op <= sdkscript.OpPUSHDATA4:
		return append([]byte{}, c.Data...), true
	case c.Op == sdkscript.Op1NEGATE:
		return []byte{0x81}, true
	case c.Op >= sdkscript.Op1 && c.Op <= sdkscript.Op16:
		return []byte{c.Op - sdkscript.Op1 + 1}, true
	}
	return nil, false
}

// Unlock builds the unlocking script for a PushDrop output from a signature.
func Unlock(signature []byte) ([]byte, error) {
	s := &sdkscript.Script{}
	if err := s.AppendPushData(signature); err != nil {
		return nil, err
	}
	return []byte(*s), nil
}

// Signature extracts the signature from a PushDrop unlocking script.
func Signature(unlockingScript []byte) ([]byte, error) {
	chunks, err := sdkscript.NewFromBytes(unlockingScript).Chunks()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadUnlock, err)
	}
	if len(chunks) != 1 || chunks[0].Op == sdkscript.Op0 || chunks[0].Op > sdkscript.OpPUSHDATA4 {
		return nil, ErrBadUnlock
	}
	return chunks[0].Data, nil
}
