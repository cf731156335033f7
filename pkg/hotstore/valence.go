package hotstore

import (
	"encoding/json"
	"fmt"
)

// ValenceAccountState is the representative cross-chain contract state from
// spec.md §3: account_id = "{chain}:{address}", current owner, a pending
// owner with expiry, the approved-library set, and the block/tx of the
// last update.
type ValenceAccountState struct {
	AccountID        string   `json:"account_id"`
	Owner            string   `json:"owner"`
	PendingOwner     string   `json:"pending_owner,omitempty"`
	PendingExpiry    int64    `json:"pending_expiry,omitempty"`
	ApprovedLibraries []string `json:"approved_libraries"`
	LastUpdateBlock  uint64   `json:"last_update_block"`
	LastUpdateTx     string   `json:"last_update_tx"`
}

// PutAccountState writes the current state for an account.
func (s *Store) PutAccountState(st ValenceAccountState) error {
	blob, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("hotstore: marshal account state: %w", err)
	}
	return s.Put(nsKey(NSValenceAccountState, st.AccountID), blob)
}

// GetAccountState reads the current state for an account.
func (s *Store) GetAccountState(accountID string) (*ValenceAccountState, error) {
	raw, err := s.Get(nsKey(NSValenceAccountState, accountID))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var st ValenceAccountState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("hotstore: unmarshal account state: %w", err)
	}
	return &st, nil
}

// SnapshotAccountHistory writes a full historical snapshot under
// valence-account-history:{account_id}:{block} and atomically advances the
// "latest historical block" pointer in the same batch.
func (s *Store) SnapshotAccountHistory(accountID string, block uint64, st ValenceAccountState) error {
	blob, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("hotstore: marshal account history: %w", err)
	}
	ops := []WriteOp{
		{Key: nsKey(NSValenceAccountHistory, accountID, encodeHeight(block)), Value: blob},
		{Key: nsKey(NSValenceAccountLatestBlk, accountID), Value: []byte(encodeHeight(block))},
	}
	return s.WriteBatch(ops)
}

// GetAccountHistory reads a historical snapshot at a specific block.
func (s *Store) GetAccountHistory(accountID string, block uint64) (*ValenceAccountState, error) {
	raw, err := s.Get(nsKey(NSValenceAccountHistory, accountID, encodeHeight(block)))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var st ValenceAccountState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("hotstore: unmarshal account history: %w", err)
	}
	return &st, nil
}
