package smt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type memBackend struct {
	data map[string][]byte
}

func newMemBackend() *memBackend { return &memBackend{data: make(map[string][]byte)} }

func (m *memBackend) Get(ns, key string) ([]byte, error) { return m.data[ns+":"+key], nil }
func (m *memBackend) Set(ns, key string, value []byte) error {
	m.data[ns+":"+key] = value
	return nil
}
func (m *memBackend) Has(ns, key string) (bool, error) {
	_, ok := m.data[ns+":"+key]
	return ok, nil
}

func TestInsertAdvancesRoot(t *testing.T) {
	tree := New(newMemBackend())
	_, hasRoot := tree.Root()
	require.False(t, hasRoot)

	fact1 := EncodeFact(1, []byte("k1"), []byte("v1"))
	root1, err := tree.Insert(fact1)
	require.NoError(t, err)

	fact2 := EncodeFact(1, []byte("k2"), []byte("v2"))
	root2, err := tree.Insert(fact2)
	require.NoError(t, err)

	require.NotEqual(t, root1, root2)

	leaf, err := tree.ResolveLeaf(root2)
	require.NoError(t, err)
	require.True(t, VerifyLeaf(leaf, fact2))
}

func TestHasFact(t *testing.T) {
	tree := New(newMemBackend())
	fact := EncodeFact(2, []byte("key"), []byte("value"))
	ok, err := tree.HasFact(fact)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = tree.Insert(fact)
	require.NoError(t, err)

	ok, err = tree.HasFact(fact)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestResolveLeafCorruptKey(t *testing.T) {
	backend := newMemBackend()
	tree := New(backend)
	root, err := tree.Insert(EncodeFact(1, []byte("a"), []byte("b")))
	require.NoError(t, err)

	backend.data[NSKey+":"+root.String()] = []byte("not-32-bytes")
	_, err = tree.ResolveLeaf(root)
	require.ErrorIs(t, err, ErrKeyCorrupt)
}
