// Package chaindb mediates every read and write of chain history and
// world state: block/transaction/receipt storage across the
// transactional store and the static-file archive, plain and hashed
// state with an incremental state root, per-address history indices,
// changesets for reversible execution, and stage/prune checkpoints.
package chaindb

import (
	"context"
	"fmt"
	"math/big"

	log "github.com/erigontech/erigon-lib/log/v3"

	"github.com/erigontech/chaindb/kv"
	"github.com/erigontech/chaindb/staticfile"
)

// ChainSpec carries the fork parameters the provider needs to answer
// history queries: the terminal total difficulty and merge boundary for
// TTD short-circuiting, and the Shanghai activation time for
// withdrawal presence.
type ChainSpec struct {
	Name string

	// TerminalTotalDifficulty is the final total difficulty of the
	// proof-of-work era; nil for chains that never merged.
	TerminalTotalDifficulty *big.Int
	// MergeBlock is the first post-merge block number, nil if the chain
	// has not merged (or the boundary is not yet known).
	MergeBlock *uint64
	// ShanghaiTime is the Shanghai activation timestamp, nil if not
	// scheduled.
	ShanghaiTime *uint64
	// CancunTime is the Cancun activation timestamp, nil if not
	// scheduled.
	CancunTime *uint64
}

func (s *ChainSpec) IsPostMerge(blockNumber uint64) bool {
	return s != nil && s.MergeBlock != nil && blockNumber >= *s.MergeBlock
}

func (s *ChainSpec) IsShanghaiActive(headerTime uint64) bool {
	return s != nil && s.ShanghaiTime != nil && headerTime >= *s.ShanghaiTime
}

func (s *ChainSpec) IsCancunActive(headerTime uint64) bool {
	return s != nil && s.CancunTime != nil && headerTime >= *s.CancunTime
}

// DatabaseProvider is one logical transaction against the chain
// database: it owns a backend transaction (read-only or read-write) and
// shares the static-file provider. Commit publishes static-file appends
// and the backend transaction together; Rollback (or dropping the
// provider without commit) discards both.
//
// A provider is not safe for concurrent use; callers either serialize
// or open sibling read-only providers.
type DatabaseProvider struct {
	tx     kv.Tx
	rwTx   kv.RwTx // nil for read-only providers
	static *staticfile.Provider
	spec   *ChainSpec
	prune  PruneModeHints
	done   bool
}

// Option mutates provider construction.
type Option func(*DatabaseProvider)

// WithPruneModes supplies prune-mode hints consulted by block writes.
func WithPruneModes(hints PruneModeHints) Option {
	return func(p *DatabaseProvider) { p.prune = hints }
}

// NewProviderRW opens a read-write provider over db.
func NewProviderRW(ctx context.Context, db kv.RwDB, static *staticfile.Provider, spec *ChainSpec, opts ...Option) (*DatabaseProvider, error) {
	tx, err := db.BeginRw(ctx)
	if err != nil {
		return nil, err
	}
	p := &DatabaseProvider{tx: tx, rwTx: tx, static: static, spec: spec}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// NewProviderRO opens a read-only provider over db.
func NewProviderRO(ctx context.Context, db kv.RwDB, static *staticfile.Provider, spec *ChainSpec, opts ...Option) (*DatabaseProvider, error) {
	tx, err := db.BeginRo(ctx)
	if err != nil {
		return nil, err
	}
	p := &DatabaseProvider{tx: tx, static: static, spec: spec}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Tx exposes the underlying backend transaction for direct table
// access.
func (p *DatabaseProvider) Tx() kv.Tx { return p.tx }

// RwTx exposes the underlying read-write transaction, or
// ErrUnsupportedProvider when the provider is read-only.
func (p *DatabaseProvider) RwTx() (kv.RwTx, error) {
	if p.rwTx == nil {
		return nil, ErrUnsupportedProvider
	}
	return p.rwTx, nil
}

// Commit flushes staged static-file appends, then commits the backend
// transaction. The static files go first: a crash between the two
// leaves an over-long static file, which startup truncates back, rather
// than a committed store pointing at records that never reached disk.
func (p *DatabaseProvider) Commit() error {
	if p.done {
		return nil
	}
	p.done = true
	if p.static != nil {
		if err := p.static.Commit(); err != nil {
			p.tx.Rollback()
			return fmt.Errorf("flush static files: %w", err)
		}
	}
	return p.tx.Commit()
}

// Rollback discards the transaction and any staged static-file appends.
func (p *DatabaseProvider) Rollback() {
	if p.done {
		return
	}
	p.done = true
	if p.static != nil {
		p.static.Rollback()
	}
	p.tx.Rollback()
}

// StaticFiles exposes the shared static-file provider.
func (p *DatabaseProvider) StaticFiles() *staticfile.Provider { return p.static }

// SyncTarget is the headers-stage work order produced by SyncGap.
type SyncTarget struct {
	// TipHash is the externally supplied target, when the downloader
	// announced one.
	TipHash *[32]byte
	// NextBlock is the first block number still to fetch.
	NextBlock uint64
}

// SyncGap reconciles the static-file headers head with the stage
// checkpoint at stage start, then computes the sync target.
//
// With nextStatic the first block the headers segment does not hold and
// nextExpected the first block the pipeline has not processed: a
// nextStatic beyond nextExpected is the residue of a commit that
// flushed static files but lost the backend transaction, and the extra
// headers are truncated away; a nextStatic behind nextExpected means a
// processed header has no stored bytes anywhere, which is corruption.
func (p *DatabaseProvider) SyncGap(externalTip *[32]byte) (SyncTarget, error) {
	checkpoint, err := GetStageCheckpoint(p.tx, StageHeaders)
	if err != nil {
		return SyncTarget{}, err
	}
	nextExpected := checkpoint + 1

	if p.static != nil {
		if head, ok := p.static.HighestBlock(staticfile.SegmentHeaders); ok {
			nextStatic := head + 1
			if nextStatic > nextExpected {
				log.Warn("static-file headers ahead of checkpoint, truncating",
					"staticHead", head, "checkpoint", checkpoint)
				if err := p.static.PruneTail(staticfile.SegmentHeaders, nextStatic-nextExpected); err != nil {
					return SyncTarget{}, err
				}
			} else if nextStatic < nextExpected {
				return SyncTarget{}, fmt.Errorf("%w: %d", ErrHeaderNotFound, head)
			}
		}
	}

	if externalTip != nil {
		return SyncTarget{TipHash: externalTip, NextBlock: nextExpected}, nil
	}
	return SyncTarget{NextBlock: nextExpected}, nil
}
