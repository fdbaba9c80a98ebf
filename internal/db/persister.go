package db

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/udisondev/xrayguard/internal/voxel"
	"github.com/udisondev/xrayguard/internal/world"
)

const defaultFlushInterval = 30 * time.Second

type savedState struct {
	version uint64
	digest  [32]byte
}

// SectionPersister periodically writes changed sections of a world.Store.
// A section is written when its version moved and its content digest
// differs from the last saved one.
type SectionPersister struct {
	store    *world.Store
	repo     *SectionRepository
	interval time.Duration

	mu    sync.Mutex
	saved map[voxel.RegionKey]savedState
}

func NewSectionPersister(store *world.Store, repo *SectionRepository, interval time.Duration) *SectionPersister {
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	return &SectionPersister{
		store:    store,
		repo:     repo,
		interval: interval,
		saved:    make(map[voxel.RegionKey]savedState),
	}
}

// LoadInto loads every stored section into the store and records it as
// saved. Returns the number of sections loaded.
func (p *SectionPersister) LoadInto(ctx context.Context) (int, error) {
	n := 0
	err := p.repo.LoadAll(ctx, func(row SectionRow) error {
		sec, err := p.store.LoadSection(row.Key, row.Blocks)
		if err != nil {
			return err
		}
		p.mu.Lock()
		p.saved[row.Key] = savedState{version: sec.Version(), digest: row.Digest}
		p.mu.Unlock()
		n++
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("loading sections: %w", err)
	}
	return n, nil
}

// Flush saves every changed section. Returns the number written.
func (p *SectionPersister) Flush(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	buf := make([]voxel.BlockType, voxel.SectionVolume)
	written := 0
	for _, key := range p.store.Keys() {
		sec := p.store.Section(key)
		if sec == nil {
			continue
		}
		prev, known := p.saved[key]
		if known && prev.version == sec.Version() {
			continue
		}

		version := sec.Blocks(buf)
		digest := world.DigestBlocks(buf)
		if known && prev.digest == digest {
			p.saved[key] = savedState{version: version, digest: digest}
			continue
		}

		if err := p.repo.Save(ctx, SectionRow{Key: key, Blocks: buf, Digest: digest}); err != nil {
			return written, err
		}
		p.saved[key] = savedState{version: version, digest: digest}
		written++
	}
	return written, nil
}

// Run flushes every interval until ctx is cancelled, then flushes once more.
func (p *SectionPersister) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	slog.Info("section persister started", "interval", p.interval)
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			n, err := p.Flush(flushCtx)
			cancel()
			if err != nil {
				return fmt.Errorf("final flush: %w", err)
			}
			slog.Info("section persister stopped", "flushed", n)
			return nil
		case <-ticker.C:
			n, err := p.Flush(ctx)
			if err != nil {
				slog.Error("flushing sections", "error", err)
				continue
			}
			if n > 0 {
				slog.Debug("flushed sections", "count", n)
			}
		}
	}
}
