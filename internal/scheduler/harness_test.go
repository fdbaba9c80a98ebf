package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/udisondev/xrayguard/internal/config"
	"github.com/udisondev/xrayguard/internal/metrics"
	"github.com/udisondev/xrayguard/internal/obfcache"
	"github.com/udisondev/xrayguard/internal/policy"
	"github.com/udisondev/xrayguard/internal/protocol"
	"github.com/udisondev/xrayguard/internal/voxel"
	"github.com/udisondev/xrayguard/internal/world"
)

// clientSink decodes every payload and keeps each player's view of the world.
type clientSink struct {
	mu    sync.Mutex
	views map[obfcache.PlayerID]map[voxel.RegionKey][]voxel.BlockType
	seen  map[obfcache.PlayerID]map[voxel.BlockType]bool
	snaps map[obfcache.PlayerID]int
}

func newClientSink() *clientSink {
	return &clientSink{
		views: make(map[obfcache.PlayerID]map[voxel.RegionKey][]voxel.BlockType),
		seen:  make(map[obfcache.PlayerID]map[voxel.BlockType]bool),
		snaps: make(map[obfcache.PlayerID]int),
	}
}

func (c *clientSink) player(id obfcache.PlayerID) map[voxel.RegionKey][]voxel.BlockType {
	v, ok := c.views[id]
	if !ok {
		v = make(map[voxel.RegionKey][]voxel.BlockType)
		c.views[id] = v
		c.seen[id] = make(map[voxel.BlockType]bool)
	}
	return v
}

func (c *clientSink) SendRegionSnapshot(id obfcache.PlayerID, _ voxel.RegionKey, payload []byte) error {
	msg, err := protocol.Decode(payload)
	if err != nil {
		return err
	}
	snap := msg.(*protocol.SectionSnapshot)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.player(id)[snap.Key] = snap.Blocks
	for _, b := range snap.Blocks {
		c.seen[id][b] = true
	}
	c.snaps[id]++
	return nil
}

func (c *clientSink) SendBlockChange(id obfcache.PlayerID, _ voxel.Pos, payload []byte) error {
	msg, err := protocol.Decode(payload)
	if err != nil {
		return err
	}
	bc := msg.(*protocol.BlockChange)

	c.mu.Lock()
	defer c.mu.Unlock()
	if blocks, ok := c.player(id)[bc.Pos.Region()]; ok {
		blocks[bc.Pos.Local()] = bc.Type
	}
	c.seen[id][bc.Type] = true
	return nil
}

// at returns what player id currently holds at pos.
func (c *clientSink) at(id obfcache.PlayerID, pos voxel.Pos) (voxel.BlockType, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	blocks, ok := c.views[id][pos.Region()]
	if !ok {
		return 0, false
	}
	return blocks[pos.Local()], true
}

func (c *clientSink) everSaw(id obfcache.PlayerID, t voxel.BlockType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seen[id][t]
}

func (c *clientSink) snapshots(id obfcache.PlayerID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snaps[id]
}

type harness struct {
	store   *world.Store
	cache   *obfcache.Cache
	sink    *clientSink
	metrics *metrics.Counters
	s       *Scheduler
}

func testEngine() config.Engine {
	cfg := config.DefaultEngine()
	cfg.ViewDistance = 1
	cfg.WorkerCount = 4
	cfg.QueueSize = 256
	cfg.TickBudget = 1000
	cfg.TickTimeBudget = 20 * time.Second
	return cfg
}

func newHarness(t *testing.T, cfg config.Engine, store *world.Store, opts ...Option) *harness {
	t.Helper()
	require.NoError(t, cfg.Validate())
	pol, err := policy.FromRules(cfg.PolicyRules())
	require.NoError(t, err)

	h := &harness{
		store:   store,
		cache:   obfcache.New(pol),
		sink:    newClientSink(),
		metrics: &metrics.Counters{},
	}
	h.s = New(cfg, store, h.cache, pol, h.sink, h.metrics, opts...)
	t.Cleanup(store.Subscribe(h.s.NotifyBlockChange))
	return h
}

// start runs the worker pool until the test ends.
func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	h.s.startWorkers(ctx, g)
	t.Cleanup(func() {
		cancel()
		_ = g.Wait()
	})
}

// step runs one tick and waits for its evaluations.
func (h *harness) step() {
	h.s.Tick()
	h.s.Wait()
}

// buildStore loads every section between lo and hi with blocks from fn.
func buildStore(t *testing.T, lo, hi voxel.RegionKey, fn func(voxel.Pos) voxel.BlockType) *world.Store {
	t.Helper()
	s := world.NewStore()
	for y := lo.Y; y <= hi.Y; y++ {
		for z := lo.Z; z <= hi.Z; z++ {
			for x := lo.X; x <= hi.X; x++ {
				key := voxel.RegionKey{X: x, Y: y, Z: z}
				blocks := make([]voxel.BlockType, voxel.SectionVolume)
				for i := range blocks {
					blocks[i] = fn(key.At(i))
				}
				_, err := s.LoadSection(key, blocks)
				require.NoError(t, err)
			}
		}
	}
	return s
}
