package server

import (
	"context"
	"errors"
	"testing"

	"github.com/graphql-go/graphql"
	"github.com/stretchr/testify/require"

	"github.com/timewave-computer/almanac-sub002/pkg/event"
	"github.com/timewave-computer/almanac-sub002/pkg/registry"
)

type fakeSchemaStore struct {
	err error
	v   *registry.Version
}

func (f *fakeSchemaStore) RegisterSchema(context.Context, registry.Version) error { return nil }
func (f *fakeSchemaStore) GetSchema(context.Context, event.ChainID, string, string) (*registry.Version, error) {
	return f.v, f.err
}
func (f *fakeSchemaStore) GetLatestSchema(context.Context, event.ChainID, string) (*registry.Version, error) {
	return f.v, f.err
}

func TestResolveContractSchemaReturnsNilOnNotFound(t *testing.T) {
	s := &Server{Schemas: &fakeSchemaStore{err: registry.ErrSchemaNotFound}}
	v, err := s.resolveContractSchema(graphql.ResolveParams{
		Context: t.Context(),
		Args:    map[string]any{"chain": "ethereum-mainnet", "address": "0xabc"},
	})
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestResolveContractSchemaPropagatesOtherErrors(t *testing.T) {
	s := &Server{Schemas: &fakeSchemaStore{err: errors.New("database unavailable")}}
	_, err := s.resolveContractSchema(graphql.ResolveParams{
		Context: t.Context(),
		Args:    map[string]any{"chain": "ethereum-mainnet", "address": "0xabc"},
	})
	require.Error(t, err)
}
