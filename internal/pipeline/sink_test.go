package pipeline

import (
	"errors"
	"sync"

	"github.com/udisondev/xrayguard/internal/obfcache"
	"github.com/udisondev/xrayguard/internal/protocol"
	"github.com/udisondev/xrayguard/internal/voxel"
)

type recordingSink struct {
	mu        sync.Mutex
	snapshots [][]byte
	changes   []protocol.BlockChange
	fail      bool
}

var errSinkDown = errors.New("sink down")

func (s *recordingSink) SendRegionSnapshot(_ obfcache.PlayerID, _ voxel.RegionKey, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errSinkDown
	}
	s.snapshots = append(s.snapshots, payload)
	return nil
}

func (s *recordingSink) SendBlockChange(_ obfcache.PlayerID, _ voxel.Pos, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errSinkDown
	}
	msg, err := protocol.Decode(payload)
	if err != nil {
		return err
	}
	s.changes = append(s.changes, *msg.(*protocol.BlockChange))
	return nil
}

type dirtySet map[voxel.Pos]bool

func (d dirtySet) MarkDirty(_ obfcache.PlayerID, pos voxel.Pos) { d[pos] = true }
