// Package hotstore implements Almanac's hot KV store (spec.md §4.D): a
// column-family key-value store with atomic batches, grounded on the
// teacher's CometBFT DB wrapper and its package-level byte-prefix key
// layout with binary.BigEndian height encoding.
package hotstore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/timewave-computer/almanac-sub002/pkg/event"
)

// Namespace names the column families spec.md §4.D enumerates. CometBFT's
// dbm.DB has no native column families, so namespaces are encoded as key
// prefixes, same approach the teacher's ledger store takes for its own
// "sysledger:" / "intent:" prefixes.
type Namespace string

const (
	NSEvents                  Namespace = "events"
	NSBlocks                  Namespace = "blocks"
	NSSMTNode                 Namespace = "smt-node"
	NSSMTData                 Namespace = "smt-data"
	NSSMTKey                  Namespace = "smt-key"
	NSValenceAccountState     Namespace = "valence-account-state"
	NSValenceAccountHistory   Namespace = "valence-account-history"
	NSValenceAccountLatestBlk Namespace = "valence-account-latest-block"
	NSMeta                    Namespace = "meta"
)

// ErrSMTKeyCorrupt signals a smt-key namespace read that did not decode to
// exactly 32 bytes, per spec.md §4.G's storage-integrity rule.
var ErrSMTKeyCorrupt = errors.New("hotstore: smt-key value is not 32 bytes")

// WriteOp is a single put/delete for inclusion in an atomic WriteBatch.
type WriteOp struct {
	Delete bool
	Key    []byte
	Value  []byte
}

// Store is the hot KV store handle. Reads use the underlying db.DB
// directly (lock-free, many concurrent readers). Multi-key writes
// (StoreEvent, DeleteBlocksFrom, SnapshotAccountHistory) go through
// WriteBatch so that a batch is visible to readers atomically; single-key
// writes (Put, Delete, UpsertBlock, UpdateBlockStatus) go to the db
// directly.
type Store struct {
	db dbm.DB
	mu sync.Mutex // serializes WriteBatch calls; dbm.Batch.WriteSync is itself atomic, this only orders concurrent callers
}

// New wraps an already-open dbm.DB (e.g. goleveldb, badgerdb, memdb) as a
// Store.
func New(db dbm.DB) *Store {
	return &Store{db: db}
}

func nsKey(ns Namespace, parts ...string) []byte {
	var b strings.Builder
	b.WriteString(string(ns))
	for _, p := range parts {
		b.WriteByte(':')
		b.WriteString(p)
	}
	return []byte(b.String())
}

func encodeHeight(h uint64) string {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, h)
	return string(buf)
}

// Put writes a single key/value outside of a batch.
func (s *Store) Put(key, value []byte) error {
	return s.db.SetSync(key, value)
}

// Get reads a single key; a missing key returns (nil, nil).
func (s *Store) Get(key []byte) ([]byte, error) {
	return s.db.Get(key)
}

// Has reports whether key is present.
func (s *Store) Has(key []byte) (bool, error) {
	return s.db.Has(key)
}

// Delete removes a single key outside of a batch.
func (s *Store) Delete(key []byte) error {
	return s.db.DeleteSync(key)
}

// WriteBatch applies ops atomically: readers either see the whole batch or
// none of it.
func (s *Store) WriteBatch(ops []WriteOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.db.NewBatch()
	defer batch.Close()

	for _, op := range ops {
		if op.Delete {
			if err := batch.Delete(op.Key); err != nil {
				return fmt.Errorf("hotstore: batch delete: %w", err)
			}
			continue
		}
		if err := batch.Set(op.Key, op.Value); err != nil {
			return fmt.Errorf("hotstore: batch set: %w", err)
		}
	}
	return batch.WriteSync()
}

// blockRecord is the JSON shape stored under blocks:{chain}:{height}.
type blockRecord struct {
	Hash       string           `json:"hash"`
	ParentHash string           `json:"parent_hash"`
	Timestamp  int64            `json:"timestamp"`
	Status     event.BlockStatus `json:"status"`
}

func eventKey(chain event.ChainID, block uint64, txIndex, logIndex uint32) []byte {
	return nsKey(NSEvents, string(chain), encodeHeight(block), encodeHeight(uint64(txIndex)), encodeHeight(uint64(logIndex)))
}

func blockKey(chain event.ChainID, block uint64) []byte {
	return nsKey(NSBlocks, string(chain), encodeHeight(block))
}

func blockPrefix(chain event.ChainID) []byte {
	return nsKey(NSBlocks, string(chain))
}

func eventPrefix(chain event.ChainID, block uint64) []byte {
	return nsKey(NSEvents, string(chain), encodeHeight(block))
}

// StoreEvent writes an event under events:{chain}:{block}:{tx_index}:{log_index}
// and upserts the block row (creating it with StatusConfirmed if absent),
// as a single atomic batch.
func (s *Store) StoreEvent(e *event.Event) error {
	eventJSON, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("hotstore: marshal event: %w", err)
	}

	ops := []WriteOp{{Key: eventKey(e.Chain, e.BlockNumber, e.TxIndex, e.LogIndex), Value: eventJSON}}

	existing, err := s.Get(blockKey(e.Chain, e.BlockNumber))
	if err != nil {
		return fmt.Errorf("hotstore: read existing block: %w", err)
	}
	if existing == nil {
		rec := blockRecord{Hash: e.BlockHash, Timestamp: e.Timestamp, Status: event.StatusConfirmed}
		blockJSON, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("hotstore: marshal block: %w", err)
		}
		ops = append(ops, WriteOp{Key: blockKey(e.Chain, e.BlockNumber), Value: blockJSON})
	}

	return s.WriteBatch(ops)
}

// UpsertBlock writes or overwrites block metadata directly (used by chain
// adapters when a block arrives with no events).
func (s *Store) UpsertBlock(b *event.Block) error {
	rec := blockRecord{Hash: b.Hash, ParentHash: b.ParentHash, Timestamp: b.Timestamp, Status: b.Status}
	blob, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("hotstore: marshal block: %w", err)
	}
	return s.Put(blockKey(b.Chain, b.Number), blob)
}

// UpdateBlockStatus mutates only the status field of an existing block row.
func (s *Store) UpdateBlockStatus(chain event.ChainID, block uint64, status event.BlockStatus) error {
	raw, err := s.Get(blockKey(chain, block))
	if err != nil {
		return fmt.Errorf("hotstore: read block: %w", err)
	}
	if raw == nil {
		return fmt.Errorf("hotstore: block %s/%d not found", chain, block)
	}
	var rec blockRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return fmt.Errorf("hotstore: unmarshal block: %w", err)
	}
	rec.Status = status
	blob, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("hotstore: marshal block: %w", err)
	}
	return s.Put(blockKey(chain, block), blob)
}

// listBlocks scans all block rows for a chain, ascending by height.
func (s *Store) listBlocks(chain event.ChainID) ([]event.Block, error) {
	prefix := blockPrefix(chain)
	it, err := s.db.Iterator(prefix, dbm.PrefixEndBytes(prefix))
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []event.Block
	for ; it.Valid(); it.Next() {
		var rec blockRecord
		if err := json.Unmarshal(it.Value(), &rec); err != nil {
			return nil, fmt.Errorf("hotstore: unmarshal block row: %w", err)
		}
		key := it.Key()
		heightBytes := key[len(key)-8:]
		height := binary.BigEndian.Uint64(heightBytes)
		out = append(out, event.Block{
			Chain: chain, Number: height, Hash: rec.Hash, ParentHash: rec.ParentHash,
			Timestamp: rec.Timestamp, Status: rec.Status,
		})
	}
	return out, it.Error()
}

// GetLatestBlock returns the maximal block number recorded for chain,
// regardless of status.
func (s *Store) GetLatestBlock(chain event.ChainID) (uint64, error) {
	blocks, err := s.listBlocks(chain)
	if err != nil {
		return 0, err
	}
	var max uint64
	found := false
	for _, b := range blocks {
		if !found || b.Number > max {
			max = b.Number
			found = true
		}
	}
	return max, nil
}

// GetLatestBlockWithStatus returns the maximal block number whose status
// equals the requested one.
func (s *Store) GetLatestBlockWithStatus(chain event.ChainID, status event.BlockStatus) (uint64, error) {
	blocks, err := s.listBlocks(chain)
	if err != nil {
		return 0, err
	}
	var max uint64
	found := false
	for _, b := range blocks {
		if b.Status == status && (!found || b.Number > max) {
			max = b.Number
			found = true
		}
	}
	return max, nil
}

// DeleteBlocksFrom removes, in a single atomic batch, all events and block
// rows for chain with block_number >= from.
func (s *Store) DeleteBlocksFrom(chain event.ChainID, from uint64) error {
	blocks, err := s.listBlocks(chain)
	if err != nil {
		return err
	}

	var ops []WriteOp
	for _, b := range blocks {
		if b.Number < from {
			continue
		}
		ops = append(ops, WriteOp{Delete: true, Key: blockKey(chain, b.Number)})

		prefix := eventPrefix(chain, b.Number)
		it, err := s.db.Iterator(prefix, dbm.PrefixEndBytes(prefix))
		if err != nil {
			return err
		}
		for ; it.Valid(); it.Next() {
			k := make([]byte, len(it.Key()))
			copy(k, it.Key())
			ops = append(ops, WriteOp{Delete: true, Key: k})
		}
		it.Close()
	}

	if len(ops) == 0 {
		return nil
	}
	return s.WriteBatch(ops)
}

// GetEvents returns events for a chain matching filter, applied in-process
// over the events:{chain}: range (the hot store favors recency over
// indexed querying, which is the warm store's job per spec.md §4.E).
func (s *Store) GetEvents(filter event.Filter) ([]event.Event, error) {
	if filter.Chain == nil {
		return nil, fmt.Errorf("hotstore: GetEvents requires a chain filter")
	}
	prefix := nsKey(NSEvents, string(*filter.Chain))
	it, err := s.db.Iterator(prefix, dbm.PrefixEndBytes(prefix))
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []event.Event
	for ; it.Valid(); it.Next() {
		var e event.Event
		if err := json.Unmarshal(it.Value(), &e); err != nil {
			return nil, fmt.Errorf("hotstore: unmarshal event: %w", err)
		}
		if matches(e, filter) {
			out = append(out, e)
		}
	}
	if err := it.Error(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber > out[j].BlockNumber
		}
		return out[i].LogIndex > out[j].LogIndex
	})

	if filter.Offset > 0 && filter.Offset < len(out) {
		out = out[filter.Offset:]
	} else if filter.Offset >= len(out) {
		out = nil
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func matches(e event.Event, f event.Filter) bool {
	if f.BlockRange != nil && (e.BlockNumber < f.BlockRange[0] || e.BlockNumber > f.BlockRange[1]) {
		return false
	}
	if f.TimeRange != nil && (e.Timestamp < f.TimeRange[0] || e.Timestamp > f.TimeRange[1]) {
		return false
	}
	if len(f.EventTypes) > 0 {
		ok := false
		for _, t := range f.EventTypes {
			if t == e.EventType {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if !e.MatchesAddress(f.Addresses) {
		return false
	}
	if !e.MatchesContractTypes(f.ContractTypes) {
		return false
	}
	if !e.MatchesEntityIDs(f.EntityIDs) {
		return false
	}
	if !e.MatchesAttributes(f.Attributes) {
		return false
	}
	if !e.MatchesTags(f.Tags) {
		return false
	}
	return true
}

