package overlay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/bsv-blockchain-demos/utility-tokens/internal/log"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/storage"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/token"
	"github.com/bsv-blockchain-demos/utility-tokens/pkg/tx"
	"github.com/bsv-blockchain-demos/utility-tokens/pkg/types"
)

var (
	prefixAdmitted = []byte("o/") // o/<outpoint> -> admittedRecord JSON
	prefixTx       = []byte("x/") // x/<txid hex> -> admitted indices JSON
)

// maxSubmitSize bounds a submitted bundle.
const maxSubmitSize = 32 << 20

// Chain is where the engine records transactions before admitting them.
type Chain interface {
	Broadcast(ctx context.Context, bundle *tx.Bundle) error
}

type admittedRecord struct {
	Identity types.TokenID `json:"identity"`
	Amount   uint64        `json:"amount"`
}

// LocalEngine is an in-process overlay hosting the token topic manager.
// A transaction is admitted when its records decode, it conserves supply
// per identity and every input it spends was admitted before.
type LocalEngine struct {
	mu    sync.Mutex
	db    storage.DB
	chain Chain
}

// NewLocalEngine creates an engine storing admitted outputs in db. With a
// non-nil chain every submission is applied to it first.
func NewLocalEngine(db storage.DB, chain Chain) *LocalEngine {
	return &LocalEngine{db: db, chain: chain}
}

// Send parses the bundle and runs each requested topic manager. Rejected
// transactions yield empty admittance, not an error.
func (e *LocalEngine) Send(ctx context.Context, tagged TaggedBEEF) (STEAK, error) {
	bundle, err := tx.ParseBundle(tagged.Beef)
	if err != nil {
		return nil, fmt.Errorf("parse bundle: %w", err)
	}
	subject := bundle.Subject()
	if subject == nil {
		return nil, fmt.Errorf("parse bundle: %w", tx.ErrTxNotInBundle)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	steak := make(STEAK, len(tagged.Topics))
	for _, topic := range tagged.Topics {
		steak[topic] = AdmittanceInstructions{OutputsToAdmit: []uint32{}, CoinsToRetain: []uint32{}}
	}
	if _, ok := steak[token.Topic]; !ok {
		return steak, nil
	}

	if e.chain != nil {
		if err := e.chain.Broadcast(ctx, bundle); err != nil {
			log.Overlay.Warn().Str("txid", subject.Hash().String()).Err(err).Msg("Chain rejected submission")
			return steak, nil
		}
	}

	admitted, err := e.admit(subject)
	if err != nil {
		log.Overlay.Warn().Str("txid", subject.Hash().String()).Err(err).Msg("Token topic rejected transaction")
		return steak, nil
	}
	steak[token.Topic] = AdmittanceInstructions{OutputsToAdmit: admitted, CoinsToRetain: []uint32{}}
	return steak, nil
}

// admit validates subject and records its token outputs. Resubmitting an
// admitted transaction returns the admittance recorded the first time.
func (e *LocalEngine) admit(subject *tx.Transaction) ([]uint32, error) {
	txid := subject.Hash()
	if data, err := e.db.Get(txKey(txid)); err == nil {
		var prev []uint32
		if err := json.Unmarshal(data, &prev); err != nil {
			return nil, err
		}
		return prev, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	admitted, err := token.ValidateTransaction(subject, e)
	if err != nil {
		return nil, err
	}

	batch := storage.NewBatch(e.db)
	for _, in := range subject.Inputs {
		if err := batch.Delete(outpointKey(in.PrevOut)); err != nil {
			return nil, err
		}
	}
	for _, i := range admitted {
		rec, _, err := token.DecodeOutput(subject.Outputs[i].LockingScript)
		if err != nil {
			return nil, err
		}
		op := types.Outpoint{TxID: txid, Index: i}
		data, err := json.Marshal(admittedRecord{Identity: token.EffectiveIdentity(rec, op), Amount: rec.Amount})
		if err != nil {
			return nil, err
		}
		if err := batch.Put(outpointKey(op), data); err != nil {
			return nil, err
		}
	}
	data, err := json.Marshal(admitted)
	if err != nil {
		return nil, err
	}
	if err := batch.Put(txKey(txid), data); err != nil {
		return nil, err
	}
	if err := batch.Commit(); err != nil {
		return nil, fmt.Errorf("engine commit: %w", err)
	}

	log.Overlay.Info().Str("txid", txid.String()).Int("outputs", len(admitted)).Msg("Token outputs admitted")
	return admitted, nil
}

// TokenInput returns the admitted record at op.
func (e *LocalEngine) TokenInput(op types.Outpoint) (types.TokenID, uint64, bool) {
	data, err := e.db.Get(outpointKey(op))
	if err != nil {
		return "", 0, false
	}
	var rec admittedRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return "", 0, false
	}
	return rec.Identity, rec.Amount, true
}

// Admitted reports whether op is a currently admitted token output.
func (e *LocalEngine) Admitted(op types.Outpoint) bool {
	_, _, ok := e.TokenInput(op)
	return ok
}

// Handler serves POST /submit in the format HTTPFacilitator sends.
func (e *LocalEngine) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/submit", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var topics []string
		if err := json.Unmarshal([]byte(r.Header.Get(HeaderTopics)), &topics); err != nil {
			http.Error(w, "invalid "+HeaderTopics+" header", http.StatusBadRequest)
			return
		}
		beef, err := io.ReadAll(io.LimitReader(r.Body, maxSubmitSize))
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}
		steak, err := e.Send(r.Context(), TaggedBEEF{Beef: beef, Topics: topics})
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(steak)
	})
	return mux
}

func txKey(id types.Hash) []byte {
	return append(append([]byte(nil), prefixTx...), id.String()...)
}

func outpointKey(op types.Outpoint) []byte {
	return append(append([]byte(nil), prefixAdmitted...), op.String()...)
}
