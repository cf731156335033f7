package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/timewave-computer/almanac-sub002/pkg/event"
	"github.com/timewave-computer/almanac-sub002/pkg/query"
)

// handleGetEvents implements GET /api/v1/events, spec.md §6: filters by
// chain, block range, event type, and spec.md §4.H's public filter shape
// (address, contract_type, entity_id, tag, attribute=key=value, each
// repeatable), routed through the query engine's Auto strategy, which reads
// the replica when one is configured and the primary otherwise; the cache
// is not consulted.
func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := event.Filter{}
	if chain := q.Get("chain"); chain != "" {
		c := event.ChainID(chain)
		filter.Chain = &c
	} else {
		s.writeError(w, http.StatusBadRequest, "chain is required")
		return
	}

	if startStr, endStr := q.Get("block_start"), q.Get("block_end"); startStr != "" || endStr != "" {
		start, err1 := strconv.ParseUint(startStr, 10, 64)
		end, err2 := strconv.ParseUint(endStr, 10, 64)
		if err1 != nil || err2 != nil {
			s.writeError(w, http.StatusBadRequest, "block_start and block_end must both be present and numeric")
			return
		}
		filter.BlockRange = &[2]uint64{start, end}
	}

	if et := q.Get("event_type"); et != "" {
		filter.EventTypes = []string{et}
	}
	if addrs := q["address"]; len(addrs) > 0 {
		filter.Addresses = addrs
	}
	if types := q["contract_type"]; len(types) > 0 {
		filter.ContractTypes = types
	}
	if ids := q["entity_id"]; len(ids) > 0 {
		filter.EntityIDs = ids
	}
	if tags := q["tag"]; len(tags) > 0 {
		filter.Tags = tags
	}
	if attrs := q["attribute"]; len(attrs) > 0 {
		filter.Attributes = make(map[string]string, len(attrs))
		for _, kv := range attrs {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				s.writeError(w, http.StatusBadRequest, "attribute must be in key=value form")
				return
			}
			filter.Attributes[k] = v
		}
	}

	filter.Limit = parseIntDefault(q.Get("limit"), 100)
	filter.Offset = parseIntDefault(q.Get("offset"), 0)

	events, err := s.Engine.GetEvents(r.Context(), filter, query.Auto)
	if err != nil {
		s.writeErrorFor(w, err, "failed to retrieve events")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// handleGetLatestBlock implements GET /api/v1/blocks/latest, spec.md §6.
func (s *Server) handleGetLatestBlock(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	chain := q.Get("chain")
	if chain == "" {
		s.writeError(w, http.StatusBadRequest, "chain is required")
		return
	}

	var (
		block *event.Block
		err   error
	)
	if statusStr := q.Get("status"); statusStr != "" {
		status, ok := event.ParseBlockStatus(statusStr)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "unrecognized status")
			return
		}
		block, err = s.Blocks.GetLatestBlockWithStatus(r.Context(), event.ChainID(chain), status)
	} else {
		block, err = s.Blocks.GetLatestBlock(r.Context(), event.ChainID(chain))
	}
	if err != nil {
		s.writeErrorFor(w, err, "failed to retrieve latest block")
		return
	}
	if block == nil {
		s.writeError(w, http.StatusNotFound, "no block found for chain")
		return
	}

	s.writeJSON(w, http.StatusOK, block)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
