// Package scheduler drives the per-tick visibility work: it tracks which
// sections each player holds, decides which hidden blocks need a line of
// sight check, and runs the checks on a bounded worker pool.
package scheduler

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/udisondev/xrayguard/internal/config"
	"github.com/udisondev/xrayguard/internal/metrics"
	"github.com/udisondev/xrayguard/internal/obfcache"
	"github.com/udisondev/xrayguard/internal/pipeline"
	"github.com/udisondev/xrayguard/internal/policy"
	"github.com/udisondev/xrayguard/internal/visibility"
	"github.com/udisondev/xrayguard/internal/voxel"
	"github.com/udisondev/xrayguard/internal/world"
)

// ErrQueueSaturated is reported when the evaluation queue is full. The
// coordinate stays pending and is retried on the next tick.
var ErrQueueSaturated = errors.New("evaluation queue saturated")

// Pose is a player's eye position and look direction in degrees.
type Pose struct {
	Eye   voxel.Vec3
	Yaw   float64
	Pitch float64
}

type eventKind uint8

const (
	evConnect eventKind = iota
	evDisconnect
	evPose
	evBlockChange
)

type event struct {
	kind    eventKind
	player  obfcache.PlayerID
	pose    Pose
	pos     voxel.Pos
	newType voxel.BlockType
}

type job struct {
	player obfcache.PlayerID
	pos    voxel.Pos
	obs    visibility.Observer
	tick   uint64
	gen    uint64
}

// tracker is the scheduler's per-player state. Owned by the tick goroutine.
type tracker struct {
	id      obfcache.PlayerID
	pose    Pose
	hasPose bool

	swept      bool
	sweptPose  Pose
	forceSweep bool

	regions map[voxel.RegionKey]struct{}
	queue   *workQueue
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now for the tick time budget.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler is driven by Run (or Tick in tests). Connect, Disconnect,
// UpdatePose and NotifyBlockChange may be called from any goroutine.
type Scheduler struct {
	cfg      config.Engine
	store    *world.Store
	cache    *obfcache.Cache
	policy   *policy.Policy
	oracle   *visibility.Oracle
	pipeline *pipeline.Pipeline
	metrics  *metrics.Counters
	now      func() time.Time

	inboxMu sync.Mutex
	inbox   []event

	dirtyMu sync.Mutex
	dirty   []event

	// Tick goroutine state.
	tick     uint64
	trackers map[obfcache.PlayerID]*tracker
	order    []obfcache.PlayerID
	snapBuf  []voxel.BlockType

	jobs     chan job
	inflight sync.WaitGroup

	// afterSectionRead runs between reading a section and seeding the
	// cache with it. Tests use it to change blocks inside that window.
	afterSectionRead func(voxel.RegionKey)
}

// New creates a Scheduler. Outbound payloads go to sink through a
// pipeline that shares cache and policy with the scheduler.
func New(cfg config.Engine, store *world.Store, cache *obfcache.Cache, pol *policy.Policy, sink pipeline.Sink, m *metrics.Counters, opts ...Option) *Scheduler {
	if m == nil {
		m = &metrics.Counters{}
	}
	s := &Scheduler{
		cfg:      cfg,
		store:    store,
		cache:    cache,
		policy:   pol,
		oracle:   visibility.NewOracle(cfg.OracleOptions()),
		metrics:  m,
		now:      time.Now,
		trackers: make(map[obfcache.PlayerID]*tracker),
		snapBuf:  make([]voxel.BlockType, voxel.SectionVolume),
		jobs:     make(chan job, cfg.QueueSize),
	}
	s.pipeline = pipeline.New(cache, pol, sink, s, m)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Pipeline returns the packet pipeline the scheduler sends through.
func (s *Scheduler) Pipeline() *pipeline.Pipeline {
	return s.pipeline
}

// Connect registers a player. Nothing is sent until its first pose.
func (s *Scheduler) Connect(player obfcache.PlayerID) {
	s.post(event{kind: evConnect, player: player})
}

// Disconnect drops a player. Evaluations still in flight for it are discarded.
func (s *Scheduler) Disconnect(player obfcache.PlayerID) {
	s.post(event{kind: evDisconnect, player: player})
}

// UpdatePose records the player's latest pose for the next tick.
func (s *Scheduler) UpdatePose(player obfcache.PlayerID, pose Pose) {
	s.post(event{kind: evPose, player: player, pose: pose})
}

// NotifyBlockChange invalidates the cache immediately and forwards the
// change to tracking players on the next tick. It has the signature of a
// world.ChangeFunc.
func (s *Scheduler) NotifyBlockChange(pos voxel.Pos, newType voxel.BlockType) {
	s.cache.Invalidate(pos, newType)
	s.post(event{kind: evBlockChange, pos: pos, newType: newType})
}

// MarkDirty queues pos for priority re-evaluation for player.
func (s *Scheduler) MarkDirty(player obfcache.PlayerID, pos voxel.Pos) {
	s.dirtyMu.Lock()
	s.dirty = append(s.dirty, event{player: player, pos: pos})
	s.dirtyMu.Unlock()
}

func (s *Scheduler) post(ev event) {
	s.inboxMu.Lock()
	s.inbox = append(s.inbox, ev)
	s.inboxMu.Unlock()
}

// Run starts the worker pool and ticks every TickInterval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	s.startWorkers(ctx, g)

	g.Go(func() error {
		ticker := time.NewTicker(s.cfg.TickInterval)
		defer ticker.Stop()

		slog.Info("scheduler started",
			"interval", s.cfg.TickInterval,
			"workers", s.cfg.Workers(),
			"tickBudget", s.cfg.TickBudget)

		for {
			select {
			case <-ctx.Done():
				slog.Info("scheduler stopping")
				return nil
			case <-ticker.C:
				s.Tick()
			}
		}
	})
	return g.Wait()
}

func (s *Scheduler) startWorkers(ctx context.Context, g *errgroup.Group) {
	for range s.cfg.Workers() {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case j := <-s.jobs:
					s.evaluate(s.store.View(), j)
					s.inflight.Done()
				}
			}
		})
	}
}

// Wait blocks until every submitted evaluation has been applied.
func (s *Scheduler) Wait() {
	s.inflight.Wait()
}

// Tick runs one scheduling round. It must not be called concurrently.
func (s *Scheduler) Tick() {
	s.tick++
	s.metrics.Ticks.Add(1)
	start := s.now()

	s.inboxMu.Lock()
	events := s.inbox
	s.inbox = nil
	s.inboxMu.Unlock()

	for _, ev := range events {
		switch ev.kind {
		case evConnect:
			s.connect(ev.player)
		case evDisconnect:
			s.disconnect(ev.player)
		case evPose:
			if t, ok := s.trackers[ev.player]; ok {
				t.pose = ev.pose
				t.hasPose = true
			}
		case evBlockChange:
			s.forwardChange(ev.pos, ev.newType)
		}
	}
	s.applyDirty()

	for _, id := range s.order {
		t := s.trackers[id]
		if !t.hasPose {
			continue
		}
		obs := s.observer(t.pose)
		if err := obs.Validate(); err != nil {
			s.metrics.InvalidPoses.Add(1)
			slog.Debug("skipping player", "player", id, "err", err)
			continue
		}
		s.updateRegions(t, obs)
		if s.needsSweep(t) {
			s.sweep(t, obs)
		}
	}

	s.submit(start)
}

func (s *Scheduler) connect(id obfcache.PlayerID) {
	if _, ok := s.trackers[id]; ok {
		return
	}
	s.trackers[id] = &tracker{
		id:      id,
		regions: make(map[voxel.RegionKey]struct{}),
		queue:   newWorkQueue(),
	}
	i, _ := slices.BinarySearch(s.order, id)
	s.order = slices.Insert(s.order, i, id)
	slog.Debug("player connected", "player", id, "total", len(s.order))
}

func (s *Scheduler) disconnect(id obfcache.PlayerID) {
	t, ok := s.trackers[id]
	if !ok {
		return
	}
	for key := range t.regions {
		s.cache.Untrack(key, id)
	}
	delete(s.trackers, id)
	if i, found := slices.BinarySearch(s.order, id); found {
		s.order = slices.Delete(s.order, i, i+1)
	}
	slog.Debug("player disconnected", "player", id, "remaining", len(s.order))
}

// forwardChange sends a true block change to every player tracking its
// section. New transparent blocks open sight lines, so nearby players sweep.
func (s *Scheduler) forwardChange(pos voxel.Pos, newType voxel.BlockType) {
	key := pos.Region()
	opens := newType.Class() == voxel.ClassTransparent
	for _, id := range s.order {
		t := s.trackers[id]
		if _, ok := t.regions[key]; ok {
			if err := s.pipeline.SendBlockChange(id, pos, newType); err != nil {
				slog.Debug("forwarding block change", "player", id, "pos", pos, "err", err)
			}
		}
		if opens && t.hasPose && pos.Center().Sub(t.pose.Eye).Len() <= s.cfg.VisibilityRadius+1 {
			t.forceSweep = true
		}
	}
}

func (s *Scheduler) applyDirty() {
	s.dirtyMu.Lock()
	marks := s.dirty
	s.dirty = nil
	s.dirtyMu.Unlock()

	for _, m := range marks {
		if t, ok := s.trackers[m.player]; ok {
			t.queue.pushDirty(m.pos)
		}
	}
}

func (s *Scheduler) observer(p Pose) visibility.Observer {
	return visibility.Observer{Eye: p.Eye, Yaw: p.Yaw, Pitch: p.Pitch, Radius: s.cfg.VisibilityRadius}
}

// updateRegions diffs the loaded sections within ViewDistance of the eye
// against the tracked set.
func (s *Scheduler) updateRegions(t *tracker, obs visibility.Observer) {
	center := obs.Eye.Voxel().Region()
	vd := s.cfg.ViewDistance

	wanted := make(map[voxel.RegionKey]struct{}, len(t.regions))
	for dy := -vd; dy <= vd; dy++ {
		for dz := -vd; dz <= vd; dz++ {
			for dx := -vd; dx <= vd; dx++ {
				key := voxel.RegionKey{X: center.X + dx, Y: center.Y + dy, Z: center.Z + dz}
				if !s.store.Loaded(key) {
					continue
				}
				wanted[key] = struct{}{}
				if _, ok := t.regions[key]; !ok {
					s.enter(t, key, obs)
				}
			}
		}
	}

	for key := range t.regions {
		if _, ok := wanted[key]; !ok {
			delete(t.regions, key)
			s.cache.Untrack(key, t.id)
		}
	}
}

func (s *Scheduler) enter(t *tracker, key voxel.RegionKey, obs visibility.Observer) {
	sec := s.store.Section(key)
	if sec == nil {
		return
	}
	// Track before reading so a change landing between the read and the
	// seed is recorded by Invalidate.
	t.regions[key] = struct{}{}
	s.cache.Track(key, t.id)
	sec.Blocks(s.snapBuf)
	if s.afterSectionRead != nil {
		s.afterSectionRead(key)
	}

	if _, err := s.pipeline.SendRegionSnapshot(t.id, key, s.snapBuf); err != nil {
		slog.Debug("sending snapshot", "player", t.id, "region", key, "err", err)
	}
	s.enqueueHidden(t, obs, key)
}

func (s *Scheduler) needsSweep(t *tracker) bool {
	if !t.swept || t.forceSweep {
		return true
	}
	if t.pose.Eye.Sub(t.sweptPose.Eye).Len() > s.cfg.MoveThreshold {
		return true
	}
	return angleDelta(t.pose.Yaw, t.sweptPose.Yaw) > s.cfg.RotateThreshold ||
		math.Abs(t.pose.Pitch-t.sweptPose.Pitch) > s.cfg.RotateThreshold
}

// sweep queues every still-hidden coordinate within the visibility radius.
func (s *Scheduler) sweep(t *tracker, obs visibility.Observer) {
	keys := make([]voxel.RegionKey, 0, len(t.regions))
	for key := range t.regions {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, func(a, b voxel.RegionKey) int {
		return cmp.Or(cmp.Compare(a.Y, b.Y), cmp.Compare(a.Z, b.Z), cmp.Compare(a.X, b.X))
	})
	s.enqueueHidden(t, obs, keys...)

	t.swept = true
	t.sweptPose = t.pose
	t.forceSweep = false
}

// enqueueHidden queues the hidden coordinates of keys in range of obs,
// nearest first.
func (s *Scheduler) enqueueHidden(t *tracker, obs visibility.Observer, keys ...voxel.RegionKey) {
	var coords []voxel.Pos
	for _, key := range keys {
		for _, pos := range s.cache.Hidden(key, t.id) {
			if obs.InRange(pos) {
				coords = append(coords, pos)
			}
		}
	}
	slices.SortStableFunc(coords, func(a, b voxel.Pos) int {
		return cmp.Compare(a.Center().Sub(obs.Eye).Len(), b.Center().Sub(obs.Eye).Len())
	})
	for _, pos := range coords {
		t.queue.push(pos)
	}
}

// submit hands queued coordinates to the workers, one per player in turn,
// until the evaluation budget or the time budget runs out. A full queue
// ends submission for this tick; nothing is dropped.
func (s *Scheduler) submit(start time.Time) {
	submitted := 0
	saturated := false

	for submitted < s.cfg.TickBudget && !saturated {
		progressed := false
		for _, id := range s.order {
			if submitted >= s.cfg.TickBudget || s.now().Sub(start) >= s.cfg.TickTimeBudget {
				break
			}
			t := s.trackers[id]
			pos, ok := s.nextCoord(t)
			if !ok {
				continue
			}
			progressed = true

			if err := s.enqueue(t, pos); err != nil {
				t.queue.pushFront(pos)
				s.metrics.QueueSaturated.Add(1)
				slog.Debug("deferring evaluation", "player", id, "pos", pos, "err", err)
				saturated = true
				break
			}
			submitted++
		}
		if !progressed || s.now().Sub(start) >= s.cfg.TickTimeBudget {
			break
		}
	}

	// Whatever is left without saturation was cut by a budget. Each
	// coordinate counts once until it is submitted.
	if !saturated {
		deferred := 0
		for _, id := range s.order {
			deferred += s.trackers[id].queue.markDeferred()
		}
		s.metrics.DeferredByBudget.Add(uint64(deferred))
	}

	if submitted > 0 || saturated {
		slog.Debug("tick submitted",
			"tick", s.tick,
			"jobs", submitted,
			"saturated", saturated,
			"elapsed", s.now().Sub(start))
	}
}

// nextCoord pops the next coordinate still inside a tracked section.
func (s *Scheduler) nextCoord(t *tracker) (voxel.Pos, bool) {
	for {
		pos, ok := t.queue.pop()
		if !ok {
			return voxel.Pos{}, false
		}
		if _, tracked := t.regions[pos.Region()]; tracked {
			return pos, true
		}
	}
}

func (s *Scheduler) enqueue(t *tracker, pos voxel.Pos) error {
	j := job{
		player: t.id,
		pos:    pos,
		obs:    s.observer(t.pose),
		tick:   s.tick,
		gen:    s.cache.Generation(pos.Region()),
	}
	s.inflight.Add(1)
	select {
	case s.jobs <- j:
		return nil
	default:
		s.inflight.Done()
		return ErrQueueSaturated
	}
}

// evaluate runs on a worker goroutine.
func (s *Scheduler) evaluate(grid visibility.Grid, j job) {
	trueType, loaded := s.store.ReadBlockType(j.pos)
	if !loaded {
		return
	}
	if !s.policy.Hides(trueType, j.pos) {
		// Already forwarded with the block change that made it ordinary.
		s.metrics.ShortCircuit.Add(1)
		if s.cache.Forget(j.pos, trueType) {
			slog.Debug("dropped stale hidden record", "player", j.player, "pos", j.pos)
		}
		return
	}

	s.metrics.Evaluations.Add(1)
	visible, err := s.oracle.IsVisible(j.obs, j.pos, grid)
	if err != nil {
		s.metrics.InvalidPoses.Add(1)
		return
	}
	presented := s.policy.SubstituteFor(trueType)
	if visible {
		presented = trueType
	}

	switch s.cache.RecordEvaluation(j.player, j.pos, trueType, presented, j.tick, j.gen) {
	case obfcache.OutcomeRevealed:
		s.metrics.Reveals.Add(1)
		if err := s.pipeline.SendReveal(j.player, j.pos, trueType); err != nil {
			slog.Debug("sending reveal", "player", j.player, "pos", j.pos, "err", err)
		}
	case obfcache.OutcomeStale:
		s.metrics.StaleDiscarded.Add(1)
	case obfcache.OutcomeUntracked:
		s.metrics.UntrackedDiscarded.Add(1)
	}
}

// angleDelta returns the absolute difference of two angles in degrees, in [0, 180].
func angleDelta(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 360)
	if d > 180 {
		d = 360 - d
	}
	return d
}
