// Package reorg implements the per-chain reorg tracker from spec.md §4.C,
// ported in meaning from original_source/crates/core/src/reorg.rs's ring
// buffer, further grounded on other_examples/.../ethmonitor.go's
// reorg-aware monitor (ErrReorg, block retention) for Go idiom.
package reorg

import (
	"fmt"
	"sync"

	"github.com/timewave-computer/almanac-sub002/pkg/event"
)

// Strategy is the configured response to a detected reorg.
type Strategy int

const (
	StrategyIgnore Strategy = iota
	StrategyRevertAndReprocess
	StrategyCustom
)

// Config mirrors original_source's ReorgConfig::default(): max_depth=100,
// strategy=RevertAndReprocess, confirmations=12.
type Config struct {
	MaxDepth      int
	Strategy      Strategy
	Confirmations uint64
}

// DefaultConfig returns spec.md/original_source's default reorg config.
func DefaultConfig() Config {
	return Config{MaxDepth: 100, Strategy: StrategyRevertAndReprocess, Confirmations: 12}
}

// ReorgedBlock is one block being rolled back, with its depth from the old
// tip.
type ReorgedBlock struct {
	Block event.Block
	Depth int
}

// Event is emitted when a reorg is detected.
type Event struct {
	Chain            event.ChainID
	ReorganizedBlocks []ReorgedBlock
	CanonicalTip      event.Block
}

// Tracker holds, per chain, a bounded ring of recent canonical blocks sized
// 2*MaxDepth.
type Tracker struct {
	mu     sync.Mutex
	cfg    Config
	chains map[event.ChainID][]event.Block // index 0 = most recent (tip)
}

// New constructs a Tracker with the given config.
func New(cfg Config) *Tracker {
	return &Tracker{cfg: cfg, chains: make(map[event.ChainID][]event.Block)}
}

func (t *Tracker) capacity() int { return 2 * t.cfg.MaxDepth }

// Observe feeds a newly-seen block to the tracker for its chain. It returns
// a non-nil *Event when the new block's parent does not match the current
// ring front — i.e. a reorg was detected with a common ancestor inside
// MaxDepth. When no common ancestor is found within MaxDepth, (nil, nil) is
// returned: spec.md treats this as beyond safe recovery, not as an error.
func (t *Tracker) Observe(chain event.ChainID, b event.Block) (*Event, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ring := t.chains[chain]

	if len(ring) == 0 {
		t.chains[chain] = prepend(ring, b, t.capacity())
		return nil, nil
	}

	tip := ring[0]
	if b.ParentHash == tip.Hash {
		t.chains[chain] = prepend(ring, b, t.capacity())
		return nil, nil
	}

	// Search for a common ancestor within MaxDepth by walking the ring.
	for depth, old := range ring {
		if depth >= t.cfg.MaxDepth {
			break
		}
		if old.Hash == b.ParentHash {
			// ring[depth] is the common ancestor itself and stays canonical;
			// ring[0:depth] is the non-canonical prefix being reorganized out.
			reorganized := make([]ReorgedBlock, 0, depth)
			for i := 0; i < depth; i++ {
				reorganized = append(reorganized, ReorgedBlock{Block: ring[i], Depth: i + 1})
			}
			// New canonical ring: keep the ancestor onward, push the new tip.
			remainder := append([]event.Block{}, ring[depth:]...)
			t.chains[chain] = prepend(remainder, b, t.capacity())

			return &Event{Chain: chain, ReorganizedBlocks: reorganized, CanonicalTip: b}, nil
		}
	}

	return nil, nil
}

func prepend(ring []event.Block, b event.Block, capacity int) []event.Block {
	out := make([]event.Block, 0, capacity)
	out = append(out, b)
	out = append(out, ring...)
	if len(out) > capacity {
		out = out[:capacity]
	}
	return out
}

// CanonicalTip returns the current tip for chain, if any.
func (t *Tracker) CanonicalTip(chain event.ChainID) (event.Block, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ring := t.chains[chain]
	if len(ring) == 0 {
		return event.Block{}, false
	}
	return ring[0], true
}

// Apply executes the configured strategy's side effects for a detected
// reorg against a store satisfying the minimal delete contract. Ignore
// performs no store mutation; RevertAndReprocess deletes events/blocks at
// or after the ancestor+1 boundary so the chain adapter can re-ingest them.
type Deleter interface {
	DeleteBlocksFrom(chain event.ChainID, from uint64) error
}

func (t *Tracker) Apply(d Deleter, ev *Event) error {
	switch t.cfg.Strategy {
	case StrategyIgnore:
		return nil
	case StrategyRevertAndReprocess:
		if len(ev.ReorganizedBlocks) == 0 {
			return nil
		}
		from := ev.ReorganizedBlocks[len(ev.ReorganizedBlocks)-1].Block.Number
		return d.DeleteBlocksFrom(ev.Chain, from)
	case StrategyCustom:
		return fmt.Errorf("reorg: custom strategy has no default handler, caller must apply it")
	default:
		return fmt.Errorf("reorg: unknown strategy %d", t.cfg.Strategy)
	}
}
