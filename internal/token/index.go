package token

import (
	"errors"
	"sync"

	"github.com/bsv-blockchain-demos/utility-tokens/pkg/tx"
	"github.com/bsv-blockchain-demos/utility-tokens/pkg/types"
)

// Spendable is a decoded record the wallet can spend.
type Spendable struct {
	Outpoint      types.Outpoint
	Identity      types.TokenID
	Record        *Record
	Instructions  SpendInstructions
	LockingScript []byte
	Tx            *tx.Transaction
}

// Amount returns the record amount.
func (s Spendable) Amount() uint64 {
	return s.Record.Amount
}

// Index holds the spendable records of each identity in load order.
// Records are fixed once built; only the reservation set changes.
type Index struct {
	records map[types.TokenID][]Spendable
	labels  map[types.TokenID]string
	order   []types.TokenID
	held    *reservations
}

type reservations struct {
	mu   sync.Mutex
	held map[types.Outpoint]bool
}

func newIndex() *Index {
	return &Index{
		records: make(map[types.TokenID][]Spendable),
		labels:  make(map[types.TokenID]string),
		held:    &reservations{held: make(map[types.Outpoint]bool)},
	}
}

func (ix *Index) add(s Spendable, label string) {
	if _, ok := ix.records[s.Identity]; !ok {
		ix.order = append(ix.order, s.Identity)
	}
	ix.records[s.Identity] = append(ix.records[s.Identity], s)
	ix.labels[s.Identity] = label
}

// Records returns the spendable records of id in load order.
func (ix *Index) Records(id types.TokenID) []Spendable {
	recs := ix.records[id]
	out := make([]Spendable, len(recs))
	copy(out, recs)
	return out
}

// Identities returns every identity in first-seen order.
func (ix *Index) Identities() []types.TokenID {
	out := make([]types.TokenID, len(ix.order))
	copy(out, ix.order)
	return out
}

// Label returns the label aggregated for id.
func (ix *Index) Label(id types.TokenID) string {
	if l, ok := ix.labels[id]; ok {
		return l
	}
	return UnknownLabel
}

// InheritReservations makes ix share the reservation set of prev, so
// records held by an in-flight transfer stay held across a refresh.
func (ix *Index) InheritReservations(prev *Index) {
	if prev != nil {
		ix.held = prev.held
	}
}

// Reserved reports whether op is held by an in-flight transfer.
func (ix *Index) Reserved(op types.Outpoint) bool {
	ix.held.mu.Lock()
	defer ix.held.mu.Unlock()
	return ix.held.held[op]
}

// Reservation holds the inputs selected for one transfer attempt.
type Reservation struct {
	*Selection
	held *reservations
	once sync.Once
}

// Reserve selects records of id covering amount, skipping records held by
// other attempts, and holds them until Release.
func (ix *Index) Reserve(id types.TokenID, amount uint64) (*Reservation, error) {
	ix.held.mu.Lock()
	defer ix.held.mu.Unlock()

	var free []Spendable
	for _, s := range ix.records[id] {
		if !ix.held.held[s.Outpoint] {
			free = append(free, s)
		}
	}
	sel, err := SelectRecords(free, amount)
	if err != nil {
		var ibe *InsufficientBalanceError
		if errors.As(err, &ibe) {
			ibe.Identity = id
			ibe.Label = ix.Label(id)
		}
		return nil, err
	}
	for _, in := range sel.Inputs {
		ix.held.held[in.Outpoint] = true
	}
	return &Reservation{Selection: sel, held: ix.held}, nil
}

// Release returns the reserved inputs. Safe to call more than once.
func (r *Reservation) Release() {
	r.once.Do(func() {
		r.held.mu.Lock()
		defer r.held.mu.Unlock()
		for _, in := range r.Inputs {
			delete(r.held.held, in.Outpoint)
		}
	})
}
