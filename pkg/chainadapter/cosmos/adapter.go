// Package cosmos implements chainadapter.Adapter for Cosmos SDK chains
// (spec.md §4.B) by polling the Tendermint/CometBFT RPC's /status, /block,
// and /block_results endpoints, grounded on
// original_source/crates/cosmos/src/subscription.rs's poll-loop shape.
//
// No Cosmos RPC client is a direct dependency anywhere in the example
// pack (cosmos-sdk and cosmrs appear only transitively, pulled in by
// unrelated tooling) so this adapter talks to the JSON-RPC endpoints
// directly over net/http rather than adopting an unwired client library;
// see DESIGN.md's ambient-stack justification for this package.
package cosmos

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/timewave-computer/almanac-sub002/pkg/chainadapter"
	"github.com/timewave-computer/almanac-sub002/pkg/event"
)

// Config carries the adapter's connection parameters.
type Config struct {
	ChainID      event.ChainID
	RPCURL       string
	PollInterval time.Duration
	Logger       *log.Logger
	HTTPClient   *http.Client
}

// Adapter polls a Tendermint-compatible RPC endpoint for new blocks and
// decodes each block's transaction events.
type Adapter struct {
	chain        event.ChainID
	rpcURL       string
	pollInterval time.Duration
	logger       *log.Logger
	http         *http.Client

	mu     sync.Mutex
	closed bool
}

var _ chainadapter.Adapter = (*Adapter)(nil)

// New constructs a Cosmos adapter against rpcURL. PollInterval defaults to
// one second, matching the original implementation's poll cadence.
func New(cfg Config) *Adapter {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Adapter{
		chain:        cfg.ChainID,
		rpcURL:       cfg.RPCURL,
		pollInterval: interval,
		logger:       logger,
		http:         httpClient,
	}
}

// ChainID returns the adapter's chain tag.
func (a *Adapter) ChainID() event.ChainID { return a.chain }

// Close is a no-op; the adapter holds no persistent connection beyond the
// shared *http.Client.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

type statusResponse struct {
	Result struct {
		SyncInfo struct {
			LatestBlockHeight string `json:"latest_block_height"`
		} `json:"sync_info"`
	} `json:"result"`
}

func (a *Adapter) latestHeight(ctx context.Context) (uint64, error) {
	var resp statusResponse
	if err := a.get(ctx, "/status", &resp); err != nil {
		return 0, fmt.Errorf("cosmos: status: %w", err)
	}
	height, err := strconv.ParseUint(resp.Result.SyncInfo.LatestBlockHeight, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cosmos: parse latest_block_height %q: %w", resp.Result.SyncInfo.LatestBlockHeight, err)
	}
	return height, nil
}

// GetLatestBlock polls /status and /block for the chain head.
func (a *Adapter) GetLatestBlock(ctx context.Context) (*event.Block, error) {
	height, err := a.latestHeight(ctx)
	if err != nil {
		return nil, err
	}
	return a.getBlockMeta(ctx, height, event.StatusConfirmed)
}

// GetLatestBlockWithStatus resolves the chain head and ignores the requested
// status: it returns the observed head, reported as StatusConfirmed, exactly
// as GetLatestBlock does. No confirmation-depth tracking advances a Cosmos
// block's status.
func (a *Adapter) GetLatestBlockWithStatus(ctx context.Context, _ event.BlockStatus) (*event.Block, error) {
	return a.GetLatestBlock(ctx)
}

type blockResponse struct {
	Result struct {
		BlockID struct {
			Hash string `json:"hash"`
		} `json:"block_id"`
		Block struct {
			Header struct {
				Height string `json:"height"`
				Time   string `json:"time"`
			} `json:"header"`
			LastCommit struct {
				BlockID struct {
					Hash string `json:"hash"`
				} `json:"block_id"`
			} `json:"last_commit"`
		} `json:"block"`
	} `json:"result"`
}

func (a *Adapter) getBlockMeta(ctx context.Context, height uint64, status event.BlockStatus) (*event.Block, error) {
	var resp blockResponse
	if err := a.get(ctx, fmt.Sprintf("/block?height=%d", height), &resp); err != nil {
		return nil, fmt.Errorf("cosmos: block %d: %w", height, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, resp.Result.Block.Header.Time)
	if err != nil {
		ts = time.Time{}
	}
	return &event.Block{
		Chain:      a.chain,
		Number:     height,
		Hash:       resp.Result.BlockID.Hash,
		ParentHash: resp.Result.Block.LastCommit.BlockID.Hash,
		Timestamp:  ts.Unix(),
		Status:     status,
	}, nil
}

type blockResultsResponse struct {
	Result struct {
		Height  string `json:"height"`
		TxsResults []struct {
			Events []tmEvent `json:"events"`
		} `json:"txs_results"`
	} `json:"result"`
}

type tmEvent struct {
	Type       string `json:"type"`
	Attributes []struct {
		Key   string `json:"key"`
		Value string `json:"value"`
		Index bool   `json:"index"`
	} `json:"attributes"`
}

// GetEvents polls /block_results for each height in the filter's block
// range and decodes every transaction's events, preserving attribute order
// and the emitting event's type as the module name (spec.md §4.B).
func (a *Adapter) GetEvents(ctx context.Context, filter event.Filter) ([]event.Event, error) {
	if filter.Chain != nil && *filter.Chain != a.chain {
		return nil, nil
	}
	if filter.BlockRange == nil {
		return nil, fmt.Errorf("cosmos: get_events requires a block range")
	}

	var out []event.Event
	for height := filter.BlockRange[0]; height <= filter.BlockRange[1]; height++ {
		block, err := a.getBlockMeta(ctx, height, event.StatusConfirmed)
		if err != nil {
			return nil, err
		}
		events, err := a.decodeBlockEvents(ctx, block)
		if err != nil {
			return nil, err
		}
		for _, ev := range events {
			if len(filter.EventTypes) > 0 && !contains(filter.EventTypes, ev.EventType) {
				continue
			}
			out = append(out, ev)
		}
	}
	return out, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func (a *Adapter) decodeBlockEvents(ctx context.Context, block *event.Block) ([]event.Event, error) {
	var resp blockResultsResponse
	if err := a.get(ctx, fmt.Sprintf("/block_results?height=%d", block.Number), &resp); err != nil {
		return nil, fmt.Errorf("cosmos: block_results %d: %w", block.Number, err)
	}

	var out []event.Event
	for txIndex, txResult := range resp.Result.TxsResults {
		for logIndex, ev := range txResult.Events {
			attrs := make([]event.EventAttribute, len(ev.Attributes))
			for i, attr := range ev.Attributes {
				key, _ := decodeMaybeBase64(attr.Key)
				value, _ := decodeMaybeBase64(attr.Value)
				attrs[i] = event.EventAttribute{Key: key, Value: value, Index: attr.Index}
			}

			normalized := event.NormalizeEventType(ev.Type, a.chain)
			raw, _ := json.Marshal(ev)
			out = append(out, event.Event{
				ID:          event.ID(a.chain, block.Number, uint32(txIndex), uint32(logIndex)),
				Chain:       a.chain,
				BlockNumber: block.Number,
				LogIndex:    uint32(logIndex),
				TxIndex:     uint32(txIndex),
				BlockHash:   block.Hash,
				Timestamp:   block.Timestamp,
				EventType:   normalized,
				RawData:     raw,
				Payload: event.CosmosPayload{
					Attributes: attrs,
					Module:     ev.Type,
				},
			})
		}
	}
	return out, nil
}

// decodeMaybeBase64 covers both pre- and post-0.46 CometBFT RPC encodings:
// some chains return attribute keys/values raw, others base64-encoded.
func decodeMaybeBase64(s string) (string, bool) {
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return s, false
	}
	return string(decoded), true
}

func (a *Adapter) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.rpcURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
