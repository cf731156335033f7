package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/graphql-go/graphql"
	gqlhandler "github.com/graphql-go/handler"

	"github.com/timewave-computer/almanac-sub002/pkg/event"
	"github.com/timewave-computer/almanac-sub002/pkg/query"
	"github.com/timewave-computer/almanac-sub002/pkg/registry"
)

// buildSchema assembles the GraphQL schema described in spec.md §6:
// events/event/latestBlock/contractSchema/health queries plus a
// registerContractSchema mutation, all backed by the same query engine and
// registry the REST handlers use.
func (s *Server) buildSchema() (graphql.Schema, error) {
	eventType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Event",
		Fields: graphql.Fields{
			"id":    &graphql.Field{Type: graphql.String},
			"chain": &graphql.Field{Type: graphql.String},
			"blockNumber": &graphql.Field{Type: graphql.Int, Resolve: func(p graphql.ResolveParams) (any, error) {
				return resolveEventField(p.Source, func(e event.Event) any { return e.BlockNumber })
			}},
			"txHash": &graphql.Field{Type: graphql.String},
			"timestamp": &graphql.Field{Type: graphql.Int, Resolve: func(p graphql.ResolveParams) (any, error) {
				return resolveEventField(p.Source, func(e event.Event) any { return e.Timestamp })
			}},
			"eventType": &graphql.Field{Type: graphql.String},
		},
	})

	fieldSchemaType := graphql.NewObject(graphql.ObjectConfig{
		Name: "FieldSchema",
		Fields: graphql.Fields{
			"name":    &graphql.Field{Type: graphql.String},
			"type":    &graphql.Field{Type: graphql.String},
			"indexed": &graphql.Field{Type: graphql.Boolean},
		},
	})

	eventSchemaType := graphql.NewObject(graphql.ObjectConfig{
		Name: "EventSchema",
		Fields: graphql.Fields{
			"name":   &graphql.Field{Type: graphql.String},
			"fields": &graphql.Field{Type: graphql.NewList(fieldSchemaType)},
		},
	})

	contractSchemaType := graphql.NewObject(graphql.ObjectConfig{
		Name: "ContractSchema",
		Fields: graphql.Fields{
			"name":   &graphql.Field{Type: graphql.String},
			"events": &graphql.Field{Type: graphql.NewList(eventSchemaType)},
		},
	})

	healthType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Health",
		Fields: graphql.Fields{
			"healthy": &graphql.Field{Type: graphql.Boolean},
			"version": &graphql.Field{Type: graphql.String},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"events": &graphql.Field{
				Type: graphql.NewList(eventType),
				Args: graphql.FieldConfigArgument{
					"chain":      &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"blockStart": &graphql.ArgumentConfig{Type: graphql.Int},
					"blockEnd":   &graphql.ArgumentConfig{Type: graphql.Int},
					"timeStart":  &graphql.ArgumentConfig{Type: graphql.Int},
					"timeEnd":    &graphql.ArgumentConfig{Type: graphql.Int},
					"eventTypes": &graphql.ArgumentConfig{Type: graphql.NewList(graphql.String)},
					"limit":      &graphql.ArgumentConfig{Type: graphql.Int},
					"offset":     &graphql.ArgumentConfig{Type: graphql.Int},
				},
				Resolve: s.resolveEvents,
			},
			"event": &graphql.Field{
				Type: eventType,
				Args: graphql.FieldConfigArgument{
					"chain": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"id":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: s.resolveEvent,
			},
			"latestBlock": &graphql.Field{
				Type: graphql.Int,
				Args: graphql.FieldConfigArgument{
					"chain": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: s.resolveLatestBlock,
			},
			"contractSchema": &graphql.Field{
				Type: contractSchemaType,
				Args: graphql.FieldConfigArgument{
					"chain":   &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"address": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: s.resolveContractSchema,
			},
			"health": &graphql.Field{
				Type: healthType,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return map[string]any{"healthy": true, "version": s.Version}, nil
				},
			},
		},
	})

	mutationType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Mutation",
		Fields: graphql.Fields{
			"registerContractSchema": &graphql.Field{
				Type: graphql.NewObject(graphql.ObjectConfig{
					Name: "RegisterSchemaResult",
					Fields: graphql.Fields{
						"success":       &graphql.Field{Type: graphql.Boolean},
						"error":         &graphql.Field{Type: graphql.String},
						"schemaVersion": &graphql.Field{Type: graphql.String},
					},
				}),
				Args: graphql.FieldConfigArgument{
					"chain":   &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"address": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"version": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"name":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"schema":  &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String), Description: "JSON-encoded registry.ContractSchema body"},
				},
				Resolve: s.resolveRegisterSchema,
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{Query: queryType, Mutation: mutationType})
}

func resolveEventField(source any, f func(event.Event) any) (any, error) {
	e, ok := source.(event.Event)
	if !ok {
		return nil, nil
	}
	return f(e), nil
}

func (s *Server) resolveEvents(p graphql.ResolveParams) (any, error) {
	chain := event.ChainID(p.Args["chain"].(string))
	filter := event.Filter{Chain: &chain}
	if v, ok := p.Args["blockStart"]; ok && v != nil {
		start := uint64(v.(int))
		end := start
		if ev, ok := p.Args["blockEnd"]; ok && ev != nil {
			end = uint64(ev.(int))
		}
		filter.BlockRange = &[2]uint64{start, end}
	}
	if v, ok := p.Args["timeStart"]; ok && v != nil {
		start := int64(v.(int))
		end := start
		if tv, ok := p.Args["timeEnd"]; ok && tv != nil {
			end = int64(tv.(int))
		}
		filter.TimeRange = &[2]int64{start, end}
	}
	if v, ok := p.Args["eventTypes"]; ok && v != nil {
		for _, et := range v.([]any) {
			filter.EventTypes = append(filter.EventTypes, et.(string))
		}
	}
	if v, ok := p.Args["limit"]; ok && v != nil {
		filter.Limit = v.(int)
	}
	if v, ok := p.Args["offset"]; ok && v != nil {
		filter.Offset = v.(int)
	}
	return s.Engine.GetEvents(p.Context, filter, query.Auto)
}

func (s *Server) resolveEvent(p graphql.ResolveParams) (any, error) {
	chain := event.ChainID(p.Args["chain"].(string))
	id := p.Args["id"].(string)
	events, err := s.Engine.GetEvents(p.Context, event.Filter{Chain: &chain, Limit: 0}, query.Auto)
	if err != nil {
		return nil, err
	}
	for _, e := range events {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, nil
}

func (s *Server) resolveLatestBlock(p graphql.ResolveParams) (any, error) {
	chain := event.ChainID(p.Args["chain"].(string))
	block, err := s.Blocks.GetLatestBlock(p.Context, chain)
	if err != nil || block == nil {
		return nil, err
	}
	return block.Number, nil
}

func (s *Server) resolveContractSchema(p graphql.ResolveParams) (any, error) {
	chain := event.ChainID(p.Args["chain"].(string))
	address := p.Args["address"].(string)
	v, err := s.Schemas.GetLatestSchema(p.Context, chain, address)
	if err != nil {
		if errors.Is(err, registry.ErrSchemaNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return v.Schema, nil
}

func (s *Server) resolveRegisterSchema(p graphql.ResolveParams) (any, error) {
	var body registry.ContractSchema
	if err := json.Unmarshal([]byte(p.Args["schema"].(string)), &body); err != nil {
		return map[string]any{"success": false, "error": "invalid schema JSON"}, nil
	}

	v := registry.Version{
		Chain:   event.ChainID(p.Args["chain"].(string)),
		Address: p.Args["address"].(string),
		Version: p.Args["version"].(string),
		Schema:  body,
	}
	if v.Schema.Name == "" {
		v.Schema.Name = p.Args["name"].(string)
	}

	if err := s.Schemas.RegisterSchema(p.Context, v); err != nil {
		return map[string]any{"success": false, "error": err.Error()}, nil
	}
	return map[string]any{"success": true, "schemaVersion": v.Version}, nil
}

func (s *Server) handleGraphQL(w http.ResponseWriter, r *http.Request) {
	schema, err := s.buildSchema()
	if err != nil {
		s.Logger.Printf("server: build graphql schema: %v", err)
		s.writeError(w, http.StatusInternalServerError, "graphql schema build failed")
		return
	}
	h := gqlhandler.New(&gqlhandler.Config{
		Schema:     &schema,
		Pretty:     true,
		GraphiQL:   false,
		Playground: true,
	})
	h.ServeHTTP(w, r)
}
