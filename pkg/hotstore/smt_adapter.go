package hotstore

import "fmt"

// SMTAdapter exposes the hot store's smt-node/smt-data/smt-key namespaces
// as an smt.Backend (see pkg/smt), without pkg/hotstore importing pkg/smt
// back (avoiding an import cycle, since pkg/smt is the lower-level
// primitive).
type SMTAdapter struct {
	store *Store
}

// NewSMTAdapter wraps store for use as the causality SMT's backend.
func NewSMTAdapter(store *Store) *SMTAdapter {
	return &SMTAdapter{store: store}
}

func (a *SMTAdapter) namespaced(ns, key string) []byte {
	return nsKey(Namespace(ns), key)
}

func (a *SMTAdapter) Get(ns, key string) ([]byte, error) {
	v, err := a.store.Get(a.namespaced(ns, key))
	if err != nil {
		return nil, fmt.Errorf("hotstore: smt get: %w", err)
	}
	return v, nil
}

func (a *SMTAdapter) Set(ns, key string, value []byte) error {
	if err := a.store.Put(a.namespaced(ns, key), value); err != nil {
		return fmt.Errorf("hotstore: smt set: %w", err)
	}
	return nil
}

func (a *SMTAdapter) Has(ns, key string) (bool, error) {
	ok, err := a.store.Has(a.namespaced(ns, key))
	if err != nil {
		return false, fmt.Errorf("hotstore: smt has: %w", err)
	}
	return ok, nil
}
