package scheduler

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/xrayguard/internal/voxel"
	"github.com/udisondev/xrayguard/internal/world"
)

var ore = voxel.Pos{X: 10, Y: 64, Z: 10}

// shaftBlock is solid stone up to y=69 with a diamond at (10,64,10), an
// open shaft above it, and a two-block air pocket at (20,64,20).
func shaftBlock(p voxel.Pos) voxel.BlockType {
	switch {
	case p == ore:
		return voxel.DiamondOre
	case p.X == 10 && p.Z == 10 && p.Y >= 65 && p.Y <= 69:
		return voxel.Air
	case p.X == 20 && p.Z == 20 && (p.Y == 64 || p.Y == 65):
		return voxel.Air
	case p.Y <= 69:
		return voxel.Stone
	default:
		return voxel.Air
	}
}

func shaftStore(t *testing.T) *harness {
	t.Helper()
	store := buildStore(t, voxel.RegionKey{X: -1, Y: 3, Z: -1}, voxel.RegionKey{X: 1, Y: 5, Z: 1}, shaftBlock)
	return newHarness(t, testEngine(), store)
}

var (
	abovePose  = Pose{Eye: voxel.Vec3{X: 10.5, Y: 70.62, Z: 10.5}, Pitch: 90}
	pocketPose = Pose{Eye: voxel.Vec3{X: 20.5, Y: 65.62, Z: 20.5}}
)

func TestShaftScenario(t *testing.T) {
	h := shaftStore(t)
	h.start(t)

	h.s.Connect(1)
	h.s.UpdatePose(1, abovePose)
	h.s.Connect(2)
	h.s.UpdatePose(2, pocketPose)
	h.step()

	got, ok := h.sink.at(1, ore)
	require.True(t, ok)
	assert.Equal(t, voxel.DiamondOre, got, "looking down the shaft")

	got, ok = h.sink.at(2, ore)
	require.True(t, ok)
	assert.Equal(t, voxel.Stone, got, "walled off")
	assert.False(t, h.sink.everSaw(2, voxel.DiamondOre))

	assert.Equal(t, uint64(1), h.metrics.Reveals.Load())
	assert.Positive(t, h.sink.snapshots(1))
}

func TestOreMinedIsForwardedWithoutCast(t *testing.T) {
	h := shaftStore(t)
	h.start(t)

	h.s.Connect(2)
	h.s.UpdatePose(2, pocketPose)
	h.step()
	evaluations := h.metrics.Evaluations.Load()
	require.Positive(t, evaluations)

	require.NoError(t, h.store.SetBlock(ore, voxel.Air))
	h.step()

	got, _ := h.sink.at(2, ore)
	assert.Equal(t, voxel.Air, got)
	assert.Equal(t, evaluations, h.metrics.Evaluations.Load())
	assert.False(t, h.sink.everSaw(2, voxel.DiamondOre))
}

func TestPlacedOreStaysHidden(t *testing.T) {
	h := shaftStore(t)
	h.start(t)

	h.s.Connect(2)
	h.s.UpdatePose(2, pocketPose)
	h.step()

	buried := voxel.Pos{X: 0, Y: 60, Z: 0}
	require.NoError(t, h.store.SetBlock(buried, voxel.GoldOre))
	h.step()
	h.step()

	got, _ := h.sink.at(2, buried)
	assert.Equal(t, voxel.Stone, got)
	assert.False(t, h.sink.everSaw(2, voxel.GoldOre))
}

func TestRevealedBlockReplacedIsHiddenUntilSeen(t *testing.T) {
	h := shaftStore(t)
	h.start(t)

	h.s.Connect(1)
	h.s.UpdatePose(1, abovePose)
	h.step()
	require.Equal(t, uint64(1), h.metrics.Reveals.Load())

	// Still in sight: the new type is cast again and revealed.
	require.NoError(t, h.store.SetBlock(ore, voxel.GoldOre))
	h.step()
	h.step()
	got, _ := h.sink.at(1, ore)
	assert.Equal(t, voxel.GoldOre, got)
	assert.Equal(t, uint64(2), h.metrics.Reveals.Load())

	// Out of sight: the replacement stays hidden.
	h.s.UpdatePose(1, pocketPose)
	h.step()
	require.NoError(t, h.store.SetBlock(voxel.Pos{X: 10, Y: 69, Z: 10}, voxel.Stone))
	require.NoError(t, h.store.SetBlock(ore, voxel.EmeraldOre))
	h.step()
	h.step()

	got, _ = h.sink.at(1, ore)
	assert.Equal(t, voxel.Stone, got)
	assert.False(t, h.sink.everSaw(1, voxel.EmeraldOre))
}

// flatBlock is stone up to y=63 with 100 diamonds exposed on top.
func flatBlock(p voxel.Pos) voxel.BlockType {
	switch {
	case p.Y == 63 && p.X >= 0 && p.X < 10 && p.Z >= 0 && p.Z < 10:
		return voxel.DiamondOre
	case p.Y <= 63:
		return voxel.Stone
	default:
		return voxel.Air
	}
}

func flatStore(t *testing.T) *world.Store {
	t.Helper()
	return buildStore(t, voxel.RegionKey{X: 0, Y: 3, Z: 0}, voxel.RegionKey{X: 0, Y: 4, Z: 0}, flatBlock)
}

var overheadPose = Pose{Eye: voxel.Vec3{X: 5.5, Y: 70, Z: 5.5}, Pitch: 90}

func TestTickBudgetRespected(t *testing.T) {
	cfg := testEngine()
	cfg.TickBudget = 10
	h := newHarness(t, cfg, flatStore(t))
	h.start(t)

	h.s.Connect(1)
	h.s.UpdatePose(1, overheadPose)

	prev := uint64(0)
	for range 20 {
		h.step()
		cur := h.metrics.Evaluations.Load()
		require.LessOrEqual(t, cur-prev, uint64(10))
		prev = cur
	}

	assert.Equal(t, uint64(100), h.metrics.Evaluations.Load())
	assert.Equal(t, uint64(100), h.metrics.Reveals.Load())
	assert.Equal(t, uint64(90), h.metrics.DeferredByBudget.Load(), "each deferred coordinate counts once")
}

// surface is an air voxel directly above the exposed stone of flatStore.
var surface = voxel.Pos{X: 12, Y: 64, Z: 12}

func TestPlacedOreInSightIsRevealed(t *testing.T) {
	h := newHarness(t, testEngine(), flatStore(t))
	h.start(t)

	h.s.Connect(1)
	h.s.UpdatePose(1, overheadPose)
	h.step()
	reveals := h.metrics.Reveals.Load()

	require.NoError(t, h.store.SetBlock(surface, voxel.GoldOre))
	h.step()
	h.step()

	got, _ := h.sink.at(1, surface)
	assert.Equal(t, voxel.GoldOre, got)
	assert.Equal(t, reveals+1, h.metrics.Reveals.Load())
	assert.NotContains(t, h.cache.Hidden(surface.Region(), 1), surface)
}

func TestChangeWhileEnteringSection(t *testing.T) {
	mined := voxel.Pos{X: 3, Y: 63, Z: 3}

	h := newHarness(t, testEngine(), flatStore(t))
	done := map[voxel.RegionKey]bool{}
	h.s.afterSectionRead = func(key voxel.RegionKey) {
		if done[key] {
			return
		}
		done[key] = true
		switch key {
		case surface.Region():
			require.NoError(t, h.store.SetBlock(surface, voxel.GoldOre))
		case mined.Region():
			require.NoError(t, h.store.SetBlock(mined, voxel.Air))
		}
	}
	h.start(t)

	h.s.Connect(1)
	h.s.UpdatePose(1, overheadPose)
	for range 3 {
		h.step()
	}

	got, _ := h.sink.at(1, surface)
	assert.Equal(t, voxel.GoldOre, got, "placed after the read, still evaluated")

	got, _ = h.sink.at(1, mined)
	assert.Equal(t, voxel.Air, got)
	assert.NotContains(t, h.cache.Hidden(mined.Region(), 1), mined, "mined after the read, record dropped")
}

func TestTickTimeBudget(t *testing.T) {
	var clock time.Time
	now := func() time.Time {
		clock = clock.Add(time.Millisecond)
		return clock
	}

	cfg := testEngine()
	cfg.TickTimeBudget = 5 * time.Millisecond
	h := newHarness(t, cfg, flatStore(t), WithClock(now))
	h.start(t)

	h.s.Connect(1)
	h.s.UpdatePose(1, overheadPose)
	h.step()

	n := h.metrics.Evaluations.Load()
	assert.Positive(t, n)
	assert.Less(t, n, uint64(10))
}

func TestQueueSaturationDefers(t *testing.T) {
	cfg := testEngine()
	cfg.QueueSize = 3
	h := newHarness(t, cfg, flatStore(t))

	h.s.Connect(1)
	h.s.UpdatePose(1, overheadPose)
	h.s.Tick() // no workers yet: 3 queued, the 4th saturates
	assert.Equal(t, uint64(1), h.metrics.QueueSaturated.Load())

	h.start(t)
	for range 100 {
		h.step()
	}

	assert.Equal(t, uint64(100), h.metrics.Reveals.Load(), "saturated coordinates are retried, not dropped")
	assert.Equal(t, uint64(100), h.metrics.Evaluations.Load())
}

func TestDisconnectDiscardsInflight(t *testing.T) {
	h := newHarness(t, testEngine(), flatStore(t))

	h.s.Connect(1)
	h.s.UpdatePose(1, overheadPose)
	h.s.Tick()
	require.Positive(t, h.cache.Sections())

	h.s.Disconnect(1)
	h.s.Tick()
	assert.Zero(t, h.cache.Sections())

	h.start(t)
	h.s.Wait()
	assert.Equal(t, uint64(100), h.metrics.UntrackedDiscarded.Load())
	assert.Zero(t, h.metrics.Reveals.Load())
}

func TestInvalidPoseSkipsPlayer(t *testing.T) {
	h := newHarness(t, testEngine(), flatStore(t))

	h.s.Connect(1)
	h.s.UpdatePose(1, Pose{Eye: voxel.Vec3{X: math.NaN(), Y: 70}})
	h.s.Tick()

	assert.Equal(t, uint64(1), h.metrics.InvalidPoses.Load())
	assert.Zero(t, h.sink.snapshots(1))
	assert.Zero(t, h.cache.Sections())
}

func TestLeavingRegionsUntracks(t *testing.T) {
	h := newHarness(t, testEngine(), flatStore(t))
	h.start(t)

	h.s.Connect(1)
	h.s.UpdatePose(1, overheadPose)
	h.step()
	require.True(t, h.cache.Tracks(voxel.RegionKey{Y: 3}, 1))

	h.s.UpdatePose(1, Pose{Eye: voxel.Vec3{X: 500, Y: 70, Z: 500}})
	h.step()
	assert.False(t, h.cache.Tracks(voxel.RegionKey{Y: 3}, 1))
	assert.Zero(t, h.cache.Sections())
}

func TestRotationTriggersSweep(t *testing.T) {
	h := newHarness(t, testEngine(), flatStore(t))
	tr := &tracker{swept: true}
	tr.pose = Pose{Yaw: 350}
	tr.sweptPose = Pose{Yaw: 5}
	assert.False(t, h.s.needsSweep(tr), "15 degrees across the wrap")

	tr.pose.Yaw = 330
	assert.True(t, h.s.needsSweep(tr))

	tr.pose = tr.sweptPose
	tr.pose.Eye.X = 2
	assert.True(t, h.s.needsSweep(tr))
}

func TestWorkQueueDirtyFirst(t *testing.T) {
	q := newWorkQueue()
	a, b, c := voxel.Pos{X: 1}, voxel.Pos{X: 2}, voxel.Pos{X: 3}
	q.push(a)
	q.push(b)
	q.push(a)
	q.pushDirty(c)
	q.pushDirty(b)
	assert.Equal(t, 3, q.len())

	var order []voxel.Pos
	for {
		p, ok := q.pop()
		if !ok {
			break
		}
		order = append(order, p)
	}
	assert.Equal(t, []voxel.Pos{c, b, a}, order)
	assert.Zero(t, q.len())
}

func TestWorkQueueMarkDeferred(t *testing.T) {
	q := newWorkQueue()
	a, b := voxel.Pos{X: 1}, voxel.Pos{X: 2}
	q.push(a)
	q.push(b)
	assert.Equal(t, 2, q.markDeferred())
	assert.Zero(t, q.markDeferred())

	q.pushDirty(a)
	assert.Zero(t, q.markDeferred(), "promotion keeps the mark")

	p, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, a, p)
	q.push(a)
	assert.Equal(t, 1, q.markDeferred(), "requeued after submission")
}
