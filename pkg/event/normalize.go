package event

import "strings"

// NormalizeEventType is the pure cross-chain event-type normalization
// function from spec.md §4.A, ported in meaning from
// original_source/crates/core/src/event.rs::mapping::normalize_event_type.
// The chain adapters apply it when they decode events, so stored events
// carry the canonical name. Event-type filter values (REST, GraphQL and
// subscription filters) are not normalized; they are compared as given.
func NormalizeEventType(eventType string, chain ChainID) string {
	c := string(chain)
	lower := strings.ToLower(eventType)

	switch {
	case strings.HasPrefix(c, "ethereum") || strings.HasPrefix(c, "polygon") || strings.HasPrefix(c, "base"):
		switch lower {
		case "transfer":
			return "token_transfer"
		case "approval":
			return "token_approval"
		case "swap":
			return "token_swap"
		default:
			return lower
		}
	case strings.Contains(c, "osmosis") || strings.Contains(c, "noble") || strings.Contains(c, "neutron"):
		switch eventType {
		case "coin_received", "coin_spent", "transfer":
			return "token_transfer"
		default:
			return eventType
		}
	default:
		return eventType
	}
}
