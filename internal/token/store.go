package token

import (
	"encoding/json"
	"fmt"

	"github.com/bsv-blockchain-demos/utility-tokens/internal/storage"
	"github.com/bsv-blockchain-demos/utility-tokens/pkg/types"
)

var prefixToken = []byte("t/") // t/<identity> -> Info JSON

// Info describes a token identity the wallet has seen.
type Info struct {
	Identity  types.TokenID  `json:"identity"`
	Label     string         `json:"label"`
	Metadata  []Field        `json:"metadata"`
	FirstSeen types.Outpoint `json:"firstSeen"`
}

// Store persists the registry of known tokens.
type Store struct {
	db storage.DB
}

// NewStore creates a token registry store.
func NewStore(db storage.DB) *Store {
	return &Store{db: db}
}

// Put stores info for a token.
func (s *Store) Put(info *Info) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("token marshal: %w", err)
	}
	return s.db.Put(tokenKey(info.Identity), data)
}

// Get retrieves info for a token.
func (s *Store) Get(id types.TokenID) (*Info, error) {
	data, err := s.db.Get(tokenKey(id))
	if err != nil {
		return nil, fmt.Errorf("token get: %w", err)
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("token unmarshal: %w", err)
	}
	return &info, nil
}

// Has checks if a token is registered.
func (s *Store) Has(id types.TokenID) (bool, error) {
	return s.db.Has(tokenKey(id))
}

// Observe registers every identity in ix that is not yet known, using its
// first record. It returns the number of new entries.
func (s *Store) Observe(ix *Index) (int, error) {
	added := 0
	for _, id := range ix.Identities() {
		known, err := s.Has(id)
		if err != nil {
			return added, err
		}
		if known {
			continue
		}
		recs := ix.Records(id)
		first := recs[0]
		info := &Info{
			Identity:  id,
			Label:     ix.Label(id),
			Metadata:  first.Record.Metadata,
			FirstSeen: first.Outpoint,
		}
		if err := s.Put(info); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

// ForEach iterates over all registered tokens.
// Return a non-nil error from fn to stop iteration early.
func (s *Store) ForEach(fn func(*Info) error) error {
	return s.db.ForEach(prefixToken, func(_, value []byte) error {
		var info Info
		if err := json.Unmarshal(value, &info); err != nil {
			return nil // Skip corrupt entries.
		}
		return fn(&info)
	})
}

// List returns all registered tokens.
func (s *Store) List() ([]Info, error) {
	var entries []Info
	err := s.ForEach(func(info *Info) error {
		entries = append(entries, *info)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []Info{}
	}
	return entries, nil
}

func tokenKey(id types.TokenID) []byte {
	key := make([]byte, 0, len(prefixToken)+len(id))
	key = append(key, prefixToken...)
	return append(key, id...)
}
