package wallet

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bsv-blockchain-demos/utility-tokens/internal/log"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/storage"
	"github.com/bsv-blockchain-demos/utility-tokens/pkg/crypto"
	"github.com/bsv-blockchain-demos/utility-tokens/pkg/tx"
	"github.com/bsv-blockchain-demos/utility-tokens/pkg/types"
)

// Key layout of the local wallet store.
var (
	prefixOutput   = []byte("o/") // o/<seq(8)> -> storedOutput JSON
	prefixOutpoint = []byte("x/") // x/<outpoint> -> seq(8)
	prefixSpent    = []byte("s/") // s/<outpoint> -> spending txid
	prefixTx       = []byte("t/") // t/<txid hex> -> tx bytes
	prefixAction   = []byte("a/") // a/<txid hex> -> storedAction JSON
	keySeq         = []byte("m/seq")
)

// Broadcaster publishes a completed transaction. The bundle's subject is the
// new transaction; the rest are its parents.
type Broadcaster interface {
	Broadcast(ctx context.Context, bundle *tx.Bundle) error
}

type storedOutput struct {
	Outpoint           types.Outpoint `json:"outpoint"`
	Satoshis           uint64         `json:"satoshis"`
	LockingScript      []byte         `json:"lockingScript"`
	Basket             string         `json:"basket"`
	CustomInstructions string         `json:"customInstructions,omitempty"`
	Tags               []string       `json:"tags,omitempty"`
}

type storedAction struct {
	TxID        types.Hash `json:"txid"`
	Description string     `json:"description"`
	Labels      []string   `json:"labels,omitempty"`
	Created     time.Time  `json:"created"`
}

type pendingAction struct {
	tx      *tx.Transaction
	args    CreateActionArgs
	parents *tx.Bundle
}

// LocalWallet is a self-contained wallet over a key-value store. It derives
// protocol keys from one identity key and tracks outputs by basket.
type LocalWallet struct {
	mu       sync.Mutex
	identity *crypto.PrivateKey
	db       storage.DB
	network  Broadcaster
	seq      uint64
	pending  map[string]*pendingAction
	locked   map[types.Outpoint]string
}

// NewLocal opens a wallet for identity over db. network may be nil, in
// which case completed transactions are only stored.
func NewLocal(identity *crypto.PrivateKey, db storage.DB, network Broadcaster) (*LocalWallet, error) {
	w := &LocalWallet{
		identity: identity,
		db:       db,
		network:  network,
		pending:  make(map[string]*pendingAction),
		locked:   make(map[types.Outpoint]string),
	}
	data, err := db.Get(keySeq)
	switch {
	case err == nil:
		if len(data) != 8 {
			return nil, fmt.Errorf("wallet: corrupt sequence counter")
		}
		w.seq = binary.BigEndian.Uint64(data)
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("wallet: load sequence: %w", err)
	}
	return w, nil
}

// IdentityKey returns the compressed identity public key.
func (w *LocalWallet) IdentityKey() []byte {
	return w.identity.PublicKey()
}

// counterpartyKey resolves a counterparty selector to a public key.
func (w *LocalWallet) counterpartyKey(counterparty string) ([]byte, error) {
	switch counterparty {
	case crypto.CounterpartySelf, "":
		return w.identity.PublicKey(), nil
	case crypto.CounterpartyAnyone:
		return crypto.AnyonePrivateKey().PublicKey(), nil
	}
	pub, err := crypto.ParsePublicKeyHex(counterparty)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCounterparty, err)
	}
	return pub, nil
}

func (w *LocalWallet) deriveKey(args KeyArgs) (*crypto.PrivateKey, error) {
	cp, err := w.counterpartyKey(args.Counterparty)
	if err != nil {
		return nil, err
	}
	invoice, err := crypto.InvoiceNumber(args.Protocol, args.KeyID)
	if err != nil {
		return nil, err
	}
	return w.identity.DeriveChild(cp, invoice)
}

// GetPublicKey returns the identity key or a derived key.
func (w *LocalWallet) GetPublicKey(_ context.Context, args GetPublicKeyArgs) (*GetPublicKeyResult, error) {
	if args.IdentityKey {
		return &GetPublicKeyResult{PublicKey: w.identity.PublicKey()}, nil
	}
	if args.ForSelf {
		child, err := w.deriveKey(args.KeyArgs)
		if err != nil {
			return nil, err
		}
		return &GetPublicKeyResult{PublicKey: child.PublicKey()}, nil
	}

	cp, err := w.counterpartyKey(args.Counterparty)
	if err != nil {
		return nil, err
	}
	invoice, err := crypto.InvoiceNumber(args.Protocol, args.KeyID)
	if err != nil {
		return nil, err
	}
	pub, err := w.identity.DeriveChildPublic(cp, invoice)
	if err != nil {
		return nil, err
	}
	return &GetPublicKeyResult{PublicKey: pub}, nil
}

// CreateSignature signs HashToSign with the derived key.
func (w *LocalWallet) CreateSignature(_ context.Context, args CreateSignatureArgs) (*CreateSignatureResult, error) {
	if len(args.HashToSign) != types.HashSize {
		return nil, fmt.Errorf("%w: hash must be %d bytes", ErrInvalidArgs, types.HashSize)
	}
	child, err := w.deriveKey(args.KeyArgs)
	if err != nil {
		return nil, err
	}
	defer child.Zero()
	sig, err := child.Sign(args.HashToSign)
	if err != nil {
		return nil, err
	}
	return &CreateSignatureResult{Signature: sig}, nil
}

// ListOutputs returns spendable outputs of a basket in insertion order.
func (w *LocalWallet) ListOutputs(_ context.Context, args ListOutputsArgs) (*ListOutputsResult, error) {
	if args.Basket == "" {
		return nil, fmt.Errorf("%w: basket required", ErrInvalidArgs)
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	res := &ListOutputsResult{Outputs: []Output{}}
	if args.IncludeTransactions {
		res.Bundle = tx.NewBundle()
	}
	err := w.db.ForEach(prefixOutput, func(_, value []byte) error {
		var so storedOutput
		if err := json.Unmarshal(value, &so); err != nil {
			log.Wallet.Warn().Err(err).Msg("Skipping corrupt output entry")
			return nil
		}
		if so.Basket != args.Basket || !hasAnyTag(so.Tags, args.Tags) {
			return nil
		}
		res.TotalOutputs++
		if res.TotalOutputs <= args.Offset {
			return nil
		}
		if args.Limit > 0 && len(res.Outputs) >= args.Limit {
			return nil
		}
		res.Outputs = append(res.Outputs, Output{
			Outpoint:           so.Outpoint,
			Satoshis:           so.Satoshis,
			LockingScript:      so.LockingScript,
			CustomInstructions: so.CustomInstructions,
			Tags:               so.Tags,
		})
		if res.Bundle != nil {
			t, err := w.loadTx(so.Outpoint.TxID)
			if err != nil {
				return err
			}
			res.Bundle.Add(t)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list outputs: %w", err)
	}
	return res, nil
}

func hasAnyTag(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

// CreateAction builds a transaction spending args.Inputs. Without inputs
// the action completes at once; otherwise the unsigned transaction is held
// under a reference until SignAction supplies the unlocking scripts.
func (w *LocalWallet) CreateAction(ctx context.Context, args CreateActionArgs) (*CreateActionResult, error) {
	if len(args.Outputs) == 0 {
		return nil, fmt.Errorf("%w: no outputs", ErrInvalidArgs)
	}

	w.mu.Lock()
	b := tx.NewBuilder()
	parents := tx.NewBundle()
	for _, in := range args.Inputs {
		if ref, ok := w.locked[in.Outpoint]; ok {
			w.mu.Unlock()
			return nil, fmt.Errorf("%w: %s is held by action %s", ErrUnknownInput, in.Outpoint, ref)
		}
		if _, err := w.outputSeq(in.Outpoint); err != nil {
			w.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrUnknownInput, in.Outpoint)
		}
		parent, err := w.findTx(args.InputBundle, in.Outpoint.TxID)
		if err != nil {
			w.mu.Unlock()
			return nil, fmt.Errorf("input %s: %w", in.Outpoint, err)
		}
		w.addAncestry(parents, parent, args.InputBundle)
		b.AddInput(in.Outpoint)
	}
	for _, out := range args.Outputs {
		b.AddOutput(out.Satoshis, out.LockingScript)
	}
	transaction := b.Build()
	if err := transaction.Validate(); err != nil {
		w.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}

	if len(args.Inputs) > 0 {
		ref := uuid.NewString()
		w.pending[ref] = &pendingAction{tx: transaction, args: args, parents: parents}
		for _, in := range args.Inputs {
			w.locked[in.Outpoint] = ref
		}
		w.mu.Unlock()
		return &CreateActionResult{
			Signable: &SignableTransaction{Tx: transaction.Clone(), Reference: ref},
		}, nil
	}
	w.mu.Unlock()

	bundle := tx.NewBundle(transaction)
	if err := w.complete(ctx, transaction, bundle, args); err != nil {
		return nil, err
	}
	return &CreateActionResult{TxID: transaction.Hash(), Bundle: bundle}, nil
}

// SignAction attaches unlocking scripts to a held transaction, broadcasts
// it and records its outputs. The reference is consumed on any outcome.
func (w *LocalWallet) SignAction(ctx context.Context, args SignActionArgs) (*SignActionResult, error) {
	w.mu.Lock()
	p, ok := w.pending[args.Reference]
	delete(w.pending, args.Reference)
	w.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownReference, args.Reference)
	}
	defer func() {
		w.mu.Lock()
		for _, in := range p.tx.Inputs {
			delete(w.locked, in.PrevOut)
		}
		w.mu.Unlock()
	}()

	signed := p.tx.Clone()
	for i := range signed.Inputs {
		spend, ok := args.Spends[uint32(i)]
		if !ok || len(spend.UnlockingScript) == 0 {
			return nil, fmt.Errorf("%w: input %d", ErrMissingUnlock, i)
		}
		signed.Inputs[i].UnlockingScript = spend.UnlockingScript
	}
	if err := signed.CheckSigned(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingUnlock, err)
	}

	bundle := tx.NewBundle()
	bundle.Merge(p.parents)
	bundle.Add(signed)
	if err := w.complete(ctx, signed, bundle, p.args); err != nil {
		return nil, err
	}
	return &SignActionResult{TxID: signed.Hash(), Bundle: bundle}, nil
}

// complete broadcasts a finished transaction and applies it to the store.
func (w *LocalWallet) complete(ctx context.Context, t *tx.Transaction, bundle *tx.Bundle, args CreateActionArgs) error {
	if w.network != nil {
		if err := w.network.Broadcast(ctx, bundle); err != nil {
			return fmt.Errorf("%w: %v", ErrBroadcastFailed, err)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	txid := t.Hash()
	batch := storage.NewBatch(w.db)
	for _, in := range t.Inputs {
		if err := w.spend(batch, in.PrevOut, txid); err != nil {
			return err
		}
	}
	for i, out := range args.Outputs {
		if out.Basket == "" {
			continue
		}
		so := storedOutput{
			Outpoint:           types.Outpoint{TxID: txid, Index: uint32(i)},
			Satoshis:           out.Satoshis,
			LockingScript:      out.LockingScript,
			Basket:             out.Basket,
			CustomInstructions: out.CustomInstructions,
			Tags:               out.Tags,
		}
		if err := w.putOutput(batch, &so); err != nil {
			return err
		}
	}
	if err := w.putTx(batch, t, args.Description, args.Labels); err != nil {
		return err
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("wallet commit: %w", err)
	}

	log.Wallet.Debug().
		Str("txid", txid.String()).
		Int("inputs", len(t.Inputs)).
		Int("outputs", len(t.Outputs)).
		Msg("Action completed")
	return nil
}

// InternalizeAction stores received outputs of the bundle's subject once
// the network accepts the bundle as evidence. Outputs the wallet already
// knows, spent or not, are skipped; when every output is known the call is
// a no-op reporting Duplicate.
func (w *LocalWallet) InternalizeAction(ctx context.Context, args InternalizeActionArgs) (*InternalizeActionResult, error) {
	subject := args.Bundle.Subject()
	if subject == nil {
		return nil, fmt.Errorf("%w: empty bundle", ErrInvalidArgs)
	}
	if len(args.Outputs) == 0 {
		return nil, fmt.Errorf("%w: no outputs", ErrInvalidArgs)
	}
	if err := subject.CheckSigned(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	if w.network != nil {
		if err := w.network.Broadcast(ctx, args.Bundle); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEvidence, err)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	txid := subject.Hash()
	batch := storage.NewBatch(w.db)
	added := 0
	seen := make(map[uint32]bool, len(args.Outputs))
	for _, o := range args.Outputs {
		if o.Protocol != ProtocolBasketInsertion {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedRemit, o.Protocol)
		}
		if o.Insertion == nil || o.Insertion.Basket == "" {
			return nil, fmt.Errorf("%w: basket insertion requires a basket", ErrInvalidArgs)
		}
		if int(o.OutputIndex) >= len(subject.Outputs) {
			return nil, fmt.Errorf("%w: index %d of %d", ErrOutputNotFound, o.OutputIndex, len(subject.Outputs))
		}
		if seen[o.OutputIndex] {
			continue
		}
		seen[o.OutputIndex] = true
		op := types.Outpoint{TxID: txid, Index: o.OutputIndex}
		known, err := w.knows(op)
		if err != nil {
			return nil, err
		}
		if known {
			continue
		}
		out := subject.Outputs[o.OutputIndex]
		so := storedOutput{
			Outpoint:           op,
			Satoshis:           out.Satoshis,
			LockingScript:      out.LockingScript,
			Basket:             o.Insertion.Basket,
			CustomInstructions: o.Insertion.CustomInstructions,
			Tags:               o.Insertion.Tags,
		}
		if err := w.putOutput(batch, &so); err != nil {
			return nil, err
		}
		added++
	}
	if added == 0 {
		return &InternalizeActionResult{Accepted: true, Duplicate: true}, nil
	}

	for _, parent := range args.Bundle.Transactions() {
		raw := parent.Bytes()
		if err := batch.Put(txKey(parent.Hash()), raw); err != nil {
			return nil, err
		}
	}
	if err := w.putTx(batch, subject, args.Description, args.Labels); err != nil {
		return nil, err
	}
	if err := batch.Commit(); err != nil {
		return nil, fmt.Errorf("wallet commit: %w", err)
	}
	log.Wallet.Info().Str("txid", txid.String()).Int("outputs", added).Msg("Action internalized")
	return &InternalizeActionResult{Accepted: true}, nil
}

// knows reports whether op is, or was, a wallet output.
func (w *LocalWallet) knows(op types.Outpoint) (bool, error) {
	if ok, err := w.db.Has(outpointKey(prefixOutpoint, op)); err != nil || ok {
		return ok, err
	}
	return w.db.Has(outpointKey(prefixSpent, op))
}

func (w *LocalWallet) outputSeq(op types.Outpoint) ([]byte, error) {
	return w.db.Get(outpointKey(prefixOutpoint, op))
}

func (w *LocalWallet) putOutput(batch storage.Batch, so *storedOutput) error {
	data, err := json.Marshal(so)
	if err != nil {
		return fmt.Errorf("output marshal: %w", err)
	}
	w.seq++
	seq := binary.BigEndian.AppendUint64(nil, w.seq)
	if err := batch.Put(append(append([]byte(nil), prefixOutput...), seq...), data); err != nil {
		return err
	}
	if err := batch.Put(outpointKey(prefixOutpoint, so.Outpoint), seq); err != nil {
		return err
	}
	return batch.Put(keySeq, seq)
}

func (w *LocalWallet) spend(batch storage.Batch, op types.Outpoint, by types.Hash) error {
	seq, err := w.outputSeq(op)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownInput, op)
	}
	if err := batch.Delete(append(append([]byte(nil), prefixOutput...), seq...)); err != nil {
		return err
	}
	if err := batch.Delete(outpointKey(prefixOutpoint, op)); err != nil {
		return err
	}
	return batch.Put(outpointKey(prefixSpent, op), by.Bytes())
}

func (w *LocalWallet) putTx(batch storage.Batch, t *tx.Transaction, description string, labels []string) error {
	txid := t.Hash()
	if err := batch.Put(txKey(txid), t.Bytes()); err != nil {
		return err
	}
	data, err := json.Marshal(storedAction{
		TxID:        txid,
		Description: description,
		Labels:      labels,
		Created:     time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return batch.Put(append(append([]byte(nil), prefixAction...), txid.String()...), data)
}

// findTx looks id up in hint, then in the wallet's stored transactions.
func (w *LocalWallet) findTx(hint *tx.Bundle, id types.Hash) (*tx.Transaction, error) {
	if t, err := hint.Find(id); err == nil {
		return t, nil
	}
	return w.loadTx(id)
}

// addAncestry adds t to b after every ancestor the wallet can find, so a
// ledger that has seen none of them can replay the chain in order.
func (w *LocalWallet) addAncestry(b *tx.Bundle, t *tx.Transaction, hint *tx.Bundle) {
	for _, in := range t.Inputs {
		if _, err := b.Find(in.PrevOut.TxID); err == nil {
			continue
		}
		parent, err := w.findTx(hint, in.PrevOut.TxID)
		if err != nil {
			continue
		}
		w.addAncestry(b, parent, hint)
	}
	b.Add(t)
}

func (w *LocalWallet) loadTx(id types.Hash) (*tx.Transaction, error) {
	raw, err := w.db.Get(txKey(id))
	if err != nil {
		return nil, fmt.Errorf("load tx %s: %w", id, err)
	}
	return tx.FromBytes(raw)
}

func txKey(id types.Hash) []byte {
	return append(append([]byte(nil), prefixTx...), id.String()...)
}

func outpointKey(prefix []byte, op types.Outpoint) []byte {
	return append(append([]byte(nil), prefix...), op.String()...)
}
