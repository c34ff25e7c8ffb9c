package token

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/bsv-blockchain-demos/utility-tokens/pkg/script"
	"github.com/bsv-blockchain-demos/utility-tokens/pkg/types"
)

// Record errors.
var (
	ErrDecode        = errors.New("token record decode failed")
	ErrInvalidAmount = errors.New("invalid token amount")
)

// MintSentinel is the identity carried by a freshly minted record.
const MintSentinel = "___mint___"

// UnknownLabel is reported for records without a label entry.
const UnknownLabel = "Unknown"

// LabelFieldID is the metadata entry id holding the display label.
const LabelFieldID = "label"

const (
	recordFields = 3
	amountSize   = 8
)

// Field is one metadata entry.
type Field struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Record is a decoded token record.
type Record struct {
	Identity []byte
	Amount   uint64
	Metadata []Field
}

// IsMint reports whether the record carries the mint sentinel.
func (r *Record) IsMint() bool {
	return string(r.Identity) == MintSentinel
}

// EncodeRecord returns the three PushDrop fields of a record: the identity
// bytes, the amount as 8-byte little-endian and the metadata as a JSON array.
func EncodeRecord(identity []byte, amount uint64, metadata []Field) ([][]byte, error) {
	md, err := encodeMetadata(metadata)
	if err != nil {
		return nil, err
	}
	amt := make([]byte, amountSize)
	binary.LittleEndian.PutUint64(amt, amount)
	return [][]byte{append([]byte(nil), identity...), amt, md}, nil
}

func encodeMetadata(metadata []Field) ([]byte, error) {
	if metadata == nil {
		metadata = []Field{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(metadata); err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// DecodeRecord parses the three PushDrop fields of a record.
func DecodeRecord(fields [][]byte) (*Record, error) {
	if len(fields) != recordFields {
		return nil, fmt.Errorf("%w: want %d fields, got %d", ErrDecode, recordFields, len(fields))
	}
	if len(fields[1]) != amountSize {
		return nil, fmt.Errorf("%w: amount is %d bytes, want %d", ErrDecode, len(fields[1]), amountSize)
	}
	md := fields[2]
	if !utf8.Valid(md) {
		return nil, fmt.Errorf("%w: metadata is not valid UTF-8", ErrDecode)
	}
	if !bytes.HasPrefix(bytes.TrimSpace(md), []byte("[")) {
		return nil, fmt.Errorf("%w: metadata is not a JSON array", ErrDecode)
	}
	var metadata []Field
	if err := json.Unmarshal(md, &metadata); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrDecode, err)
	}
	if len(metadata) == 0 {
		// Encoding writes nil as [].
		metadata = nil
	}
	return &Record{
		Identity: append([]byte(nil), fields[0]...),
		Amount:   binary.LittleEndian.Uint64(fields[1]),
		Metadata: metadata,
	}, nil
}

// DecodeOutput decodes the token record held in a locking script.
func DecodeOutput(lockingScript []byte) (*Record, *script.PushDrop, error) {
	pd, err := script.Decode(lockingScript)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	rec, err := DecodeRecord(pd.Fields)
	if err != nil {
		return nil, nil, err
	}
	return rec, pd, nil
}

// EffectiveIdentity returns the identity a record is tracked under: the
// outpoint of the output for a mint, the carried identity otherwise.
func EffectiveIdentity(rec *Record, outpoint types.Outpoint) types.TokenID {
	if rec.IsMint() {
		return types.TokenID(outpoint.String())
	}
	return types.TokenID(rec.Identity)
}

// Label returns the value of the "label" metadata entry.
func Label(metadata []Field) string {
	for _, f := range metadata {
		if f.ID == LabelFieldID {
			return f.Value
		}
	}
	return UnknownLabel
}

// ParseAmount parses a decimal token amount in [0, 2^64-1].
func ParseAmount(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "+") {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return v, nil
}
