// Package event defines Almanac's unified cross-chain event model: the
// canonical Event shape, the Block/BlockStatus lifecycle, and the
// payload_variant tagged union, grounded on
// original_source/crates/core/src/event.rs's UnifiedEvent/EventData shapes.
package event

import (
	"fmt"
	"strings"
)

// ChainID is an opaque string tag partitioning all per-chain state, e.g.
// "ethereum-mainnet" or "noble-1".
type ChainID string

// PayloadKind discriminates the concrete type behind an EventPayload, used
// both for JSON tagging and for SQL column storage.
type PayloadKind string

const (
	PayloadEVM     PayloadKind = "evm"
	PayloadCosmos  PayloadKind = "cosmos"
	PayloadGeneric PayloadKind = "generic"
)

// EventPayload is the tagged union described in spec.md §3: exactly one of
// EVMPayload, CosmosPayload, or GenericPayload.
type EventPayload interface {
	Kind() PayloadKind
}

// EVMPayload carries EVM-style log topics/data/address. TxStatus carries the
// emitting transaction's receipt status (1 success, 0 reverted) when the
// adapter managed to fetch the receipt; it is left nil when the receipt
// fetch failed or was skipped, so an unknown status stays distinct from a
// reverted transaction's 0.
type EVMPayload struct {
	Topics   []string `json:"topics"`
	Data     string   `json:"data"`
	Address  string   `json:"address"`
	TxStatus *uint64  `json:"tx_status,omitempty"`
}

func (EVMPayload) Kind() PayloadKind { return PayloadEVM }

// EventAttribute is a single Cosmos event attribute. Index is preserved per
// spec.md's data model but consulted by no query path (see DESIGN.md Open
// Question decisions).
type EventAttribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Index bool   `json:"index"`
}

// CosmosPayload carries Cosmos-style ordered attributes and the emitting
// module name. Keys may repeat.
type CosmosPayload struct {
	Attributes []EventAttribute `json:"attributes"`
	Module     string           `json:"module"`
}

func (CosmosPayload) Kind() PayloadKind { return PayloadCosmos }

// GenericPayload is a plain key-value map for chains without a richer
// native shape.
type GenericPayload struct {
	Attributes map[string]string `json:"attributes"`
}

func (GenericPayload) Kind() PayloadKind { return PayloadGeneric }

// Event is the central, immutable entity. Once observed it is never
// mutated; a reorg removes the whole block range rather than editing
// individual events.
type Event struct {
	ID         string       `json:"id"`
	Chain      ChainID      `json:"chain"`
	BlockNumber uint64      `json:"block_number"`
	LogIndex   uint32       `json:"log_index"`
	TxIndex    uint32       `json:"tx_index"`
	BlockHash  string       `json:"block_hash"`
	TxHash     string       `json:"tx_hash"`
	Timestamp  int64        `json:"timestamp"`
	EventType  string       `json:"event_type"`
	RawData    []byte       `json:"raw_data"`
	Payload    EventPayload `json:"payload_variant"`
}

// ID builds the deterministic, globally-unique event ID from its
// (chain, block, tx, log) coordinates.
func ID(chain ChainID, blockNumber uint64, txIndex, logIndex uint32) string {
	return fmt.Sprintf("%s:%d:%d:%d", chain, blockNumber, txIndex, logIndex)
}

// BlockStatus is the finality label; values form a total order and only
// advance monotonically outside of a reorg.
type BlockStatus int

const (
	StatusConfirmed BlockStatus = iota
	StatusSafe
	StatusJustified
	StatusFinalized
)

func (s BlockStatus) String() string {
	switch s {
	case StatusConfirmed:
		return "confirmed"
	case StatusSafe:
		return "safe"
	case StatusJustified:
		return "justified"
	case StatusFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// ParseBlockStatus is the inverse of String, used when decoding query
// parameters and stored rows.
func ParseBlockStatus(s string) (BlockStatus, bool) {
	switch s {
	case "confirmed":
		return StatusConfirmed, true
	case "safe":
		return StatusSafe, true
	case "justified":
		return StatusJustified, true
	case "finalized":
		return StatusFinalized, true
	default:
		return 0, false
	}
}

// Block is the (chain, block_number) -> metadata record.
type Block struct {
	Chain      ChainID     `json:"chain"`
	Number     uint64      `json:"number"`
	Hash       string      `json:"hash"`
	ParentHash string      `json:"parent_hash"`
	Timestamp  int64       `json:"timestamp"`
	Status     BlockStatus `json:"status"`
}

// Filter is the query-side selection shape shared by the hot and warm
// stores (spec.md §4.D/§4.E `get_events`), extended with spec.md §4.H's
// public filter shape (`addresses?, contract_types?, entity_ids?,
// attributes?, tags?`). ContractTypes, EntityIDs, and Tags are matched
// against reserved keys ("contract_type", "entity_id", "tags") in a
// CosmosPayload/GenericPayload's attribute map rather than dedicated event
// columns, since no other part of the unified event model carries them
// (see DESIGN.md Open Question decisions).
type Filter struct {
	Chain      *ChainID
	BlockRange *[2]uint64 // inclusive [start, end]
	TimeRange  *[2]int64  // inclusive unix-seconds [start, end]
	EventTypes []string
	Limit      int
	Offset     int

	Addresses     []string
	ContractTypes []string
	EntityIDs     []string
	Attributes    map[string]string
	Tags          []string
}

const (
	attrKeyContractType = "contract_type"
	attrKeyEntityID     = "entity_id"
	attrKeyTags         = "tags"
)

// attributesOf extracts a flat key-value view of an event's payload, used
// to evaluate the attributes/contract_types/entity_ids/tags filter fields
// uniformly across payload variants. EVMPayload carries no attribute map
// and always yields an empty set.
func attributesOf(p EventPayload) map[string]string {
	switch v := p.(type) {
	case CosmosPayload:
		out := make(map[string]string, len(v.Attributes))
		for _, a := range v.Attributes {
			out[a.Key] = a.Value
		}
		return out
	case GenericPayload:
		return v.Attributes
	default:
		return nil
	}
}

// MatchesAddress reports whether the event's EVM contract address (when
// present) is in addresses; non-EVM events never match a non-empty list.
func (e Event) MatchesAddress(addresses []string) bool {
	if len(addresses) == 0 {
		return true
	}
	evm, ok := e.Payload.(EVMPayload)
	if !ok {
		return false
	}
	for _, a := range addresses {
		if strings.EqualFold(a, evm.Address) {
			return true
		}
	}
	return false
}

// MatchesAttributes reports whether every key in required is present in
// the event's attribute map with an equal value, per spec.md §4.I's
// subscription filter semantics reused here for REST/query filtering.
func (e Event) MatchesAttributes(required map[string]string) bool {
	if len(required) == 0 {
		return true
	}
	attrs := attributesOf(e.Payload)
	for k, v := range required {
		if attrs[k] != v {
			return false
		}
	}
	return true
}

// MatchesContractTypes reports whether the event's "contract_type"
// attribute is in types.
func (e Event) MatchesContractTypes(types []string) bool {
	return matchesReservedAttr(e.Payload, attrKeyContractType, types)
}

// MatchesEntityIDs reports whether the event's "entity_id" attribute is in
// ids.
func (e Event) MatchesEntityIDs(ids []string) bool {
	return matchesReservedAttr(e.Payload, attrKeyEntityID, ids)
}

// MatchesTags reports whether every tag in required appears in the event's
// comma-separated "tags" attribute.
func (e Event) MatchesTags(required []string) bool {
	if len(required) == 0 {
		return true
	}
	raw, ok := attributesOf(e.Payload)[attrKeyTags]
	if !ok {
		return false
	}
	present := make(map[string]bool)
	for _, t := range strings.Split(raw, ",") {
		present[strings.TrimSpace(t)] = true
	}
	for _, t := range required {
		if !present[t] {
			return false
		}
	}
	return true
}

func matchesReservedAttr(p EventPayload, key string, want []string) bool {
	if len(want) == 0 {
		return true
	}
	v, ok := attributesOf(p)[key]
	if !ok {
		return false
	}
	for _, w := range want {
		if w == v {
			return true
		}
	}
	return false
}
