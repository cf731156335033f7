package warmstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/timewave-computer/almanac-sub002/pkg/apperrors"
	"github.com/timewave-computer/almanac-sub002/pkg/event"
)

// EventRepository implements spec.md §4.E's event write/read contracts over
// the events table, grounded on the teacher's
// pkg/database/repository_request.go dynamic-filter query builder.
type EventRepository struct {
	db *sql.DB
}

// StoreEvent inserts a single event, idempotent on its primary key so that
// synchronizer retries after a partial-batch failure are safe to repeat.
func (r *EventRepository) StoreEvent(ctx context.Context, e *event.Event) error {
	payloadJSON, err := json.Marshal(e.Payload)
	if err != nil {
		return apperrors.Wrap(apperrors.KindSerialization, "warmstore: marshal payload", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO events (id, chain, block_number, log_index, tx_index, block_hash, tx_hash, timestamp, event_type, raw_data, payload_kind, payload_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`,
		e.ID, string(e.Chain), e.BlockNumber, e.LogIndex, e.TxIndex, e.BlockHash, e.TxHash, e.Timestamp, e.EventType, e.RawData, string(e.Payload.Kind()), payloadJSON,
	)
	if err != nil {
		return apperrors.Wrap(apperrors.KindDatabase, fmt.Sprintf("warmstore: store event %s", e.ID), err)
	}
	return nil
}

// StoreEventTx is StoreEvent over an explicit transaction, so a caller can
// pair an event write with UpsertBlockTx atomically. The synchronizer does
// not use it: it writes events and blocks through separate calls.
func (r *EventRepository) StoreEventTx(ctx context.Context, tx *sql.Tx, e *event.Event) error {
	payloadJSON, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("warmstore: marshal payload: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (id, chain, block_number, log_index, tx_index, block_hash, tx_hash, timestamp, event_type, raw_data, payload_kind, payload_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`,
		e.ID, string(e.Chain), e.BlockNumber, e.LogIndex, e.TxIndex, e.BlockHash, e.TxHash, e.Timestamp, e.EventType, e.RawData, string(e.Payload.Kind()), payloadJSON,
	)
	if err != nil {
		return fmt.Errorf("warmstore: store event tx %s: %w", e.ID, err)
	}
	return nil
}

// DeleteFrom removes all events for chain at or above fromBlock, used to
// roll back a reorganized range.
func (r *EventRepository) DeleteFrom(ctx context.Context, chain event.ChainID, fromBlock uint64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE chain = $1 AND block_number >= $2`, string(chain), fromBlock)
	if err != nil {
		return fmt.Errorf("warmstore: delete events from %s@%d: %w", chain, fromBlock, err)
	}
	return nil
}

// GetEvents builds a dynamic WHERE clause from the filter and returns
// matches ordered by timestamp DESC, block_number DESC (spec.md §4.E). This
// differs from the hot store, which sorts by block_number DESC, log_index
// DESC.
func (r *EventRepository) GetEvents(ctx context.Context, f event.Filter) ([]event.Event, error) {
	var (
		clauses []string
		args    []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Chain != nil {
		clauses = append(clauses, "chain = "+arg(string(*f.Chain)))
	}
	if f.BlockRange != nil {
		clauses = append(clauses, "block_number >= "+arg(f.BlockRange[0]))
		clauses = append(clauses, "block_number <= "+arg(f.BlockRange[1]))
	}
	if f.TimeRange != nil {
		clauses = append(clauses, "timestamp >= "+arg(f.TimeRange[0]))
		clauses = append(clauses, "timestamp <= "+arg(f.TimeRange[1]))
	}
	if len(f.EventTypes) > 0 {
		placeholders := make([]string, len(f.EventTypes))
		for i, t := range f.EventTypes {
			placeholders[i] = arg(t)
		}
		clauses = append(clauses, "event_type IN ("+strings.Join(placeholders, ", ")+")")
	}
	if len(f.Addresses) > 0 {
		placeholders := make([]string, len(f.Addresses))
		for i, addr := range f.Addresses {
			placeholders[i] = arg(addr)
		}
		clauses = append(clauses, "payload_json->>'address' IN ("+strings.Join(placeholders, ", ")+")")
	}
	// ContractTypes/EntityIDs/Tags and Attributes are matched against
	// GenericPayload's nested "attributes" object; CosmosPayload stores
	// attributes as an ordered array rather than an object, so these
	// clauses only see generic-payload rows (see DESIGN.md Open Question
	// decisions).
	for k, v := range f.Attributes {
		clauses = append(clauses, "payload_json->'attributes'->>"+arg(k)+" = "+arg(v))
	}
	if len(f.ContractTypes) > 0 {
		placeholders := make([]string, len(f.ContractTypes))
		for i, t := range f.ContractTypes {
			placeholders[i] = arg(t)
		}
		clauses = append(clauses, "payload_json->'attributes'->>'contract_type' IN ("+strings.Join(placeholders, ", ")+")")
	}
	if len(f.EntityIDs) > 0 {
		placeholders := make([]string, len(f.EntityIDs))
		for i, id := range f.EntityIDs {
			placeholders[i] = arg(id)
		}
		clauses = append(clauses, "payload_json->'attributes'->>'entity_id' IN ("+strings.Join(placeholders, ", ")+")")
	}
	for _, tag := range f.Tags {
		clauses = append(clauses, "payload_json->'attributes'->>'tags' LIKE "+arg("%"+tag+"%"))
	}

	query := `SELECT id, chain, block_number, log_index, tx_index, block_hash, tx_hash, timestamp, event_type, raw_data, payload_kind, payload_json FROM events`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY timestamp DESC, block_number DESC"

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT " + arg(limit)
	if f.Offset > 0 {
		query += " OFFSET " + arg(f.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindDatabase, "warmstore: get events", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetEventsWithStatus inner-joins events to blocks so that only events whose
// block has at least minStatus finality are returned (spec.md §4.E's
// get_events_with_status).
func (r *EventRepository) GetEventsWithStatus(ctx context.Context, chain event.ChainID, minStatus event.BlockStatus, limit int) ([]event.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT e.id, e.chain, e.block_number, e.log_index, e.tx_index, e.block_hash, e.tx_hash, e.timestamp, e.event_type, e.raw_data, e.payload_kind, e.payload_json
		FROM events e
		INNER JOIN blocks b ON b.chain = e.chain AND b.block_number = e.block_number
		WHERE e.chain = $1 AND b.status >= $2
		ORDER BY e.timestamp DESC, e.block_number DESC
		LIMIT $3`,
		string(chain), int(minStatus), limit,
	)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindDatabase, "warmstore: get events with status", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]event.Event, error) {
	var out []event.Event
	for rows.Next() {
		var (
			e                       event.Event
			chain                   string
			payloadKind             string
			payloadJSON             []byte
			logIndex, txIndex       sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &chain, &e.BlockNumber, &logIndex, &txIndex, &e.BlockHash, &e.TxHash, &e.Timestamp, &e.EventType, &e.RawData, &payloadKind, &payloadJSON); err != nil {
			return nil, fmt.Errorf("warmstore: scan event: %w", err)
		}
		e.Chain = event.ChainID(chain)
		e.LogIndex = uint32(logIndex.Int64)
		e.TxIndex = uint32(txIndex.Int64)

		payload, err := decodePayload(event.PayloadKind(payloadKind), payloadJSON)
		if err != nil {
			return nil, err
		}
		e.Payload = payload
		out = append(out, e)
	}
	return out, rows.Err()
}

func decodePayload(kind event.PayloadKind, data []byte) (event.EventPayload, error) {
	switch kind {
	case event.PayloadEVM:
		var p event.EVMPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("warmstore: decode evm payload: %w", err)
		}
		return p, nil
	case event.PayloadCosmos:
		var p event.CosmosPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("warmstore: decode cosmos payload: %w", err)
		}
		return p, nil
	default:
		var p event.GenericPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("warmstore: decode generic payload: %w", err)
		}
		return p, nil
	}
}
