// Package smt implements the causality Sparse Merkle Tree from spec.md
// §4.G: a content-addressed tree over cross-chain facts, parameterized by
// a backend with {get, set, has} over the smt-node/smt-data/smt-key
// namespaces. Namespace literals are grounded verbatim on
// original_source/crates/causality/src/storage.rs's SmtStorage<B>; the
// hashing/proof conventions (SHA-256, constant-time comparison, hex
// encoding) are adapted from the teacher's pkg/merkle/tree.go, generalized
// from a dense binary tree to a sparse one addressed by fact hash.
package smt

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
)

// Namespace literals, grounded byte-for-byte on the Rust original.
const (
	NSNode = "smt-node"
	NSData = "smt-data"
	NSKey  = "smt-key"
)

// ErrKeyCorrupt is returned when a smt-key value does not decode to exactly
// 32 bytes, the storage-integrity error spec.md §4.G calls for.
var ErrKeyCorrupt = errors.New("smt: smt-key value is not 32 bytes")

// Backend is the minimal storage contract the SMT needs. A hotstore-backed
// implementation simply namespaces keys with NSNode/NSData/NSKey and calls
// through to the hot KV store.
type Backend interface {
	Get(ns, key string) ([]byte, error)
	Set(ns, key string, value []byte) error
	Has(ns, key string) (bool, error)
}

// Hash is a 32-byte content address.
type Hash [32]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

func hashBytes(b []byte) Hash {
	return sha256.Sum256(b)
}

func combine(left, right Hash) Hash {
	buf := make([]byte, 64)
	copy(buf[:32], left[:])
	copy(buf[32:], right[:])
	return hashBytes(buf)
}

// Tree is the causality SMT handle. Root is advisory and rebuildable: it is
// advanced on every insertion but the SMT is never queried for "latest" —
// roots are pinned explicitly by the causality layer at chain-consistent
// snapshots (spec.md §4.G).
type Tree struct {
	backend Backend
	root    Hash
	hasRoot bool
}

// New constructs an empty Tree over backend.
func New(backend Backend) *Tree {
	return &Tree{backend: backend}
}

// Root returns the current root hash, if any fact has been inserted.
func (t *Tree) Root() (Hash, bool) { return t.root, t.hasRoot }

// SetRoot pins the tree at an externally-supplied root (used when the
// causality layer restores a chain-consistent snapshot).
func (t *Tree) SetRoot(root Hash) {
	t.root = root
	t.hasRoot = true
}

// EncodeFact produces the canonical byte layout for an SMT fact, fixed per
// DESIGN.md's Open Question decision:
//
//	domain_separator (1 byte) || len(key) varint || key bytes || len(value) varint || value bytes
func EncodeFact(domainSeparator byte, key, value []byte) []byte {
	buf := make([]byte, 0, 1+10+len(key)+10+len(value))
	buf = append(buf, domainSeparator)
	buf = appendVarint(buf, uint64(len(key)))
	buf = append(buf, key...)
	buf = appendVarint(buf, uint64(len(value)))
	buf = append(buf, value...)
	return buf
}

func appendVarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

// Insert hashes the fact's canonical encoding to a leaf key K, stores the
// leaf under smt-data:K, and emits a new root: K itself for the first fact,
// otherwise hash(oldRoot||K), stored as an internal node under
// smt-node:newRoot. It then writes the inverse pointer smt-key:newRoot -> K.
// Roots form a chain of (previous root, leaf) pairs; no tree walk is made
// and no sibling nodes are allocated. The two or three backend writes are
// separate Set calls and are not applied as one atomic unit.
func (t *Tree) Insert(fact []byte) (Hash, error) {
	leafKey := hashBytes(fact)

	if err := t.backend.Set(NSData, leafKey.String(), fact); err != nil {
		return Hash{}, fmt.Errorf("smt: store leaf data: %w", err)
	}

	var newRoot Hash
	if !t.hasRoot {
		newRoot = leafKey
	} else {
		newRoot = combine(t.root, leafKey)
		if err := t.backend.Set(NSNode, newRoot.String(), append(append([]byte{}, t.root[:]...), leafKey[:]...)); err != nil {
			return Hash{}, fmt.Errorf("smt: store internal node: %w", err)
		}
	}

	if err := t.backend.Set(NSKey, newRoot.String(), leafKey[:]); err != nil {
		return Hash{}, fmt.Errorf("smt: store inverse pointer: %w", err)
	}

	t.root = newRoot
	t.hasRoot = true
	return newRoot, nil
}

// ResolveLeaf follows the smt-key inverse pointer for a node hash back to
// its originating leaf key. A value that does not decode to 32 bytes is an
// ErrKeyCorrupt storage-integrity error per spec.md §4.G.
func (t *Tree) ResolveLeaf(nodeHash Hash) (Hash, error) {
	raw, err := t.backend.Get(NSKey, nodeHash.String())
	if err != nil {
		return Hash{}, fmt.Errorf("smt: read smt-key: %w", err)
	}
	if raw == nil {
		return Hash{}, fmt.Errorf("smt: no inverse pointer for %s", nodeHash)
	}
	if len(raw) != 32 {
		return Hash{}, ErrKeyCorrupt
	}
	var leaf Hash
	copy(leaf[:], raw)
	return leaf, nil
}

// HasFact reports whether a fact (by its canonical encoding) has already
// been inserted as a leaf.
func (t *Tree) HasFact(fact []byte) (bool, error) {
	leafKey := hashBytes(fact)
	return t.backend.Has(NSData, leafKey.String())
}

// VerifyLeaf does a constant-time comparison between an expected leaf hash
// and the hash recovered from stored data, guarding against timing attacks
// the way the teacher's merkle.VerifyProof does.
func VerifyLeaf(expected Hash, data []byte) bool {
	got := hashBytes(data)
	return subtle.ConstantTimeCompare(expected[:], got[:]) == 1
}
