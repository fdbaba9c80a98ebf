// Package pipeline rewrites outbound world data so a client only receives
// the true type of a hidden block after it has been proven visible.
package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/udisondev/xrayguard/internal/metrics"
	"github.com/udisondev/xrayguard/internal/obfcache"
	"github.com/udisondev/xrayguard/internal/policy"
	"github.com/udisondev/xrayguard/internal/protocol"
	"github.com/udisondev/xrayguard/internal/voxel"
)

// ErrRevealSuperseded is returned by SendReveal when the true type changed
// or the player stopped tracking pos after the evaluation was recorded.
var ErrRevealSuperseded = errors.New("reveal superseded")

// Sink delivers encoded payloads to one client connection.
type Sink interface {
	SendRegionSnapshot(player obfcache.PlayerID, region voxel.RegionKey, payload []byte) error
	SendBlockChange(player obfcache.PlayerID, pos voxel.Pos, payload []byte) error
}

// DirtyMarker queues a coordinate for re-evaluation.
type DirtyMarker interface {
	MarkDirty(player obfcache.PlayerID, pos voxel.Pos)
}

const sendStripes = 64

// Pipeline is safe for concurrent use if the Sink and DirtyMarker are.
// Sends to one player are serialized, and each send reads the cache under
// the same lock, so a reveal can never overtake a later block change.
type Pipeline struct {
	cache   *obfcache.Cache
	policy  *policy.Policy
	sink    Sink
	dirty   DirtyMarker
	metrics *metrics.Counters

	sendMu [sendStripes]sync.Mutex
}

// New creates a Pipeline. dirty may be nil.
func New(cache *obfcache.Cache, pol *policy.Policy, sink Sink, dirty DirtyMarker, m *metrics.Counters) *Pipeline {
	if m == nil {
		m = &metrics.Counters{}
	}
	return &Pipeline{cache: cache, policy: pol, sink: sink, dirty: dirty, metrics: m}
}

func (p *Pipeline) lockPlayer(player obfcache.PlayerID) func() {
	mu := &p.sendMu[uint64(player)%sendStripes]
	mu.Lock()
	return mu.Unlock
}

// SendRegionSnapshot sends region to player with every hidden voxel not
// yet revealed to player replaced by its substitute, and seeds the cache
// with what was sent. It returns the number of substituted voxels.
// Sending the same truth twice without an intervening change produces the
// same bytes.
func (p *Pipeline) SendRegionSnapshot(player obfcache.PlayerID, region voxel.RegionKey, truth []voxel.BlockType) (int, error) {
	if len(truth) != voxel.SectionVolume {
		return 0, fmt.Errorf("snapshot of %v: %w", region, protocol.ErrMalformed)
	}
	defer p.lockPlayer(player)()

	presented := make([]voxel.BlockType, voxel.SectionVolume)
	hidden := p.cache.Seed(player, region, truth, presented)

	payload, err := protocol.EncodeSectionSnapshot(region, presented)
	if err != nil {
		return hidden, fmt.Errorf("encoding snapshot of %v: %w", region, err)
	}
	if err := p.sink.SendRegionSnapshot(player, region, payload); err != nil {
		p.metrics.SendErrors.Add(1)
		return hidden, fmt.Errorf("sending snapshot of %v to player %d: %w", region, player, err)
	}
	p.metrics.SnapshotsSent.Add(1)
	return hidden, nil
}

// SendBlockChange forwards a true type change at pos. The true type is
// sent if it is not hidden or the player already holds pos revealed;
// otherwise the substitute is sent and pos is marked dirty.
func (p *Pipeline) SendBlockChange(player obfcache.PlayerID, pos voxel.Pos, trueType voxel.BlockType) error {
	defer p.lockPlayer(player)()

	presented := trueType
	if p.policy.Hides(trueType, pos) {
		e, ok := p.cache.Get(player, pos)
		if !ok || e.TrueType != trueType || !e.Revealed() {
			presented = p.policy.SubstituteFor(trueType)
			if p.dirty != nil {
				p.dirty.MarkDirty(player, pos)
			}
		}
	}
	return p.sendBlock(player, pos, presented)
}

// SendReveal sends the true type after the player was proven to see pos.
// Nothing is sent if the cache no longer holds trueType revealed for the
// player; the block change that superseded it is forwarded separately.
func (p *Pipeline) SendReveal(player obfcache.PlayerID, pos voxel.Pos, trueType voxel.BlockType) error {
	defer p.lockPlayer(player)()

	e, ok := p.cache.Get(player, pos)
	if !ok || e.TrueType != trueType || !e.Revealed() {
		return fmt.Errorf("revealing %v to player %d: %w", pos, player, ErrRevealSuperseded)
	}
	return p.sendBlock(player, pos, trueType)
}

func (p *Pipeline) sendBlock(player obfcache.PlayerID, pos voxel.Pos, t voxel.BlockType) error {
	if err := p.sink.SendBlockChange(player, pos, protocol.EncodeBlockChange(pos, t)); err != nil {
		p.metrics.SendErrors.Add(1)
		return fmt.Errorf("sending block %v to player %d: %w", pos, player, err)
	}
	p.metrics.BlockChangesSent.Add(1)
	return nil
}
