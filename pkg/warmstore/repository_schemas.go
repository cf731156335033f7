package warmstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/timewave-computer/almanac-sub002/pkg/event"
	"github.com/timewave-computer/almanac-sub002/pkg/registry"
)

// SchemaRepository persists the contract schema registry, implementing
// registry.Store over the contract_schema* tables so the warm store can
// back spec.md §4.A durably instead of only in-process.
type SchemaRepository struct {
	db *sql.DB
}

var _ registry.Store = (*SchemaRepository)(nil)

// RegisterSchema records a new (chain, address, version) schema and
// advances the latest pointer, all inside one transaction.
func (r *SchemaRepository) RegisterSchema(ctx context.Context, v registry.Version) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("warmstore: register schema begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM contract_schema_versions WHERE chain = $1 AND address = $2 AND version = $3)`,
		string(v.Chain), v.Address, v.Version,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("warmstore: register schema exists check: %w", err)
	}
	if exists {
		return fmt.Errorf("%w: chain=%s address=%s version=%s", registry.ErrSchemaExists, v.Chain, v.Address, v.Version)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO contract_schemas (chain, address, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (chain, address) DO UPDATE SET name = EXCLUDED.name`,
		string(v.Chain), v.Address, v.Schema.Name,
	)
	if err != nil {
		return fmt.Errorf("warmstore: register schema contract row: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO contract_schema_versions (chain, address, version)
		VALUES ($1, $2, $3)`,
		string(v.Chain), v.Address, v.Version,
	)
	if err != nil {
		return fmt.Errorf("warmstore: register schema version row: %w", err)
	}

	for _, es := range v.Schema.Events {
		fieldsJSON, err := json.Marshal(es.Fields)
		if err != nil {
			return fmt.Errorf("warmstore: marshal event fields: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO contract_event_schemas (chain, address, version, event_name, fields_json)
			VALUES ($1, $2, $3, $4, $5)`,
			string(v.Chain), v.Address, v.Version, es.Name, fieldsJSON,
		)
		if err != nil {
			return fmt.Errorf("warmstore: insert event schema %s: %w", es.Name, err)
		}
	}

	for _, fs := range v.Schema.Functions {
		inputsJSON, err := json.Marshal(fs.Inputs)
		if err != nil {
			return fmt.Errorf("warmstore: marshal function inputs: %w", err)
		}
		outputsJSON, err := json.Marshal(fs.Outputs)
		if err != nil {
			return fmt.Errorf("warmstore: marshal function outputs: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO contract_function_schemas (chain, address, version, function_name, inputs_json, outputs_json)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			string(v.Chain), v.Address, v.Version, fs.Name, inputsJSON, outputsJSON,
		)
		if err != nil {
			return fmt.Errorf("warmstore: insert function schema %s: %w", fs.Name, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO contract_schema_latest (chain, address, version)
		VALUES ($1, $2, $3)
		ON CONFLICT (chain, address) DO UPDATE SET version = EXCLUDED.version`,
		string(v.Chain), v.Address, v.Version,
	)
	if err != nil {
		return fmt.Errorf("warmstore: update latest pointer: %w", err)
	}

	return tx.Commit()
}

// GetSchema retrieves an exact (chain, address, version) schema.
func (r *SchemaRepository) GetSchema(ctx context.Context, chain event.ChainID, address, version string) (*registry.Version, error) {
	var name string
	err := r.db.QueryRowContext(ctx, `SELECT name FROM contract_schemas WHERE chain = $1 AND address = $2`, string(chain), address).Scan(&name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: chain=%s address=%s version=%s", registry.ErrSchemaNotFound, chain, address, version)
		}
		return nil, fmt.Errorf("warmstore: get schema contract row: %w", err)
	}

	schema := registry.ContractSchema{Name: name}

	eventRows, err := r.db.QueryContext(ctx, `
		SELECT event_name, fields_json FROM contract_event_schemas
		WHERE chain = $1 AND address = $2 AND version = $3`, string(chain), address, version)
	if err != nil {
		return nil, fmt.Errorf("warmstore: get schema events: %w", err)
	}
	defer eventRows.Close()
	for eventRows.Next() {
		var (
			eventName  string
			fieldsJSON []byte
		)
		if err := eventRows.Scan(&eventName, &fieldsJSON); err != nil {
			return nil, fmt.Errorf("warmstore: scan event schema: %w", err)
		}
		var fields []registry.FieldSchema
		if err := json.Unmarshal(fieldsJSON, &fields); err != nil {
			return nil, fmt.Errorf("warmstore: decode event fields: %w", err)
		}
		schema.Events = append(schema.Events, registry.EventSchema{Name: eventName, Fields: fields})
	}
	if err := eventRows.Err(); err != nil {
		return nil, err
	}

	fnRows, err := r.db.QueryContext(ctx, `
		SELECT function_name, inputs_json, outputs_json FROM contract_function_schemas
		WHERE chain = $1 AND address = $2 AND version = $3`, string(chain), address, version)
	if err != nil {
		return nil, fmt.Errorf("warmstore: get schema functions: %w", err)
	}
	defer fnRows.Close()
	for fnRows.Next() {
		var (
			fnName      string
			inputsJSON  []byte
			outputsJSON []byte
		)
		if err := fnRows.Scan(&fnName, &inputsJSON, &outputsJSON); err != nil {
			return nil, fmt.Errorf("warmstore: scan function schema: %w", err)
		}
		var inputs, outputs []registry.FieldSchema
		if err := json.Unmarshal(inputsJSON, &inputs); err != nil {
			return nil, fmt.Errorf("warmstore: decode function inputs: %w", err)
		}
		if err := json.Unmarshal(outputsJSON, &outputs); err != nil {
			return nil, fmt.Errorf("warmstore: decode function outputs: %w", err)
		}
		schema.Functions = append(schema.Functions, registry.FunctionSchema{Name: fnName, Inputs: inputs, Outputs: outputs})
	}
	if err := fnRows.Err(); err != nil {
		return nil, err
	}

	return &registry.Version{Chain: chain, Address: address, Version: version, Schema: schema}, nil
}

// GetLatestSchema resolves the latest pointer, then delegates to GetSchema.
func (r *SchemaRepository) GetLatestSchema(ctx context.Context, chain event.ChainID, address string) (*registry.Version, error) {
	var version string
	err := r.db.QueryRowContext(ctx, `SELECT version FROM contract_schema_latest WHERE chain = $1 AND address = $2`, string(chain), address).Scan(&version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: chain=%s address=%s", registry.ErrSchemaNotFound, chain, address)
		}
		return nil, fmt.Errorf("warmstore: get latest schema pointer: %w", err)
	}
	return r.GetSchema(ctx, chain, address, version)
}
