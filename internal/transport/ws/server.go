// Package ws serves players over WebSocket. Each connection becomes one
// player session; outbound snapshots and block changes are binary
// messages, inbound poses and block edits are JSON text messages.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/udisondev/xrayguard/internal/config"
	"github.com/udisondev/xrayguard/internal/metrics"
	"github.com/udisondev/xrayguard/internal/obfcache"
	"github.com/udisondev/xrayguard/internal/protocol"
	"github.com/udisondev/xrayguard/internal/scheduler"
	"github.com/udisondev/xrayguard/internal/voxel"
)

// ErrEditsDisabled is returned for block edits on a server without an editor.
var ErrEditsDisabled = errors.New("block edits disabled")

// Sessions receives player lifecycle and pose events. *scheduler.Scheduler
// implements it.
type Sessions interface {
	Connect(player obfcache.PlayerID)
	Disconnect(player obfcache.PlayerID)
	UpdatePose(player obfcache.PlayerID, pose scheduler.Pose)
}

// BlockEditor applies player block edits. *world.Store implements it.
type BlockEditor interface {
	SetBlock(pos voxel.Pos, t voxel.BlockType) error
}

// Server accepts WebSocket players and exposes debug endpoints.
type Server struct {
	cfg      config.NetworkConfig
	hub      *Hub
	sessions Sessions
	editor   BlockEditor
	metrics  *metrics.Counters

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

// NewServer creates a Server. A nil editor rejects SET_BLOCK messages.
func NewServer(cfg config.NetworkConfig, hub *Hub, sessions Sessions, editor BlockEditor, m *metrics.Counters) *Server {
	return &Server{
		cfg:      cfg,
		hub:      hub,
		sessions: sessions,
		editor:   editor,
		metrics:  m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 64 << 10,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP routes: /ws for players and /debug/stats.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/debug/stats", s.handleStats)
	return mux
}

// Run listens on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	slog.Info("websocket server listening", "address", ln.Addr().String())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down http server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving http: %w", err)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	id := obfcache.PlayerID(s.nextID.Add(1))
	client := newClient(id, conn, s.cfg.SendQueueSize, s.cfg.WriteTimeout)
	s.hub.Register(client)
	go client.writePump()

	welcome, err := json.Marshal(protocol.NewWelcome(uint64(id)))
	if err != nil {
		slog.Error("encoding welcome", "player", id, "error", err)
		s.hub.Unregister(id)
		client.CloseAsync()
		return
	}
	if err := client.Send(websocket.TextMessage, welcome); err != nil {
		s.hub.Unregister(id)
		return
	}

	slog.Info("player connected", "player", id, "remote", r.RemoteAddr)
	s.sessions.Connect(id)

	defer func() {
		s.sessions.Disconnect(id)
		s.hub.Unregister(id)
		client.CloseAsync()
		slog.Info("player disconnected", "player", id)
	}()

	s.readLoop(client)
}

func (s *Server) readLoop(c *Client) {
	if s.cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(s.cfg.MaxMessageSize)
	}

	for {
		if s.cfg.ReadTimeout > 0 {
			if err := c.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
				return
			}
		}
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("read failed", "player", c.id, "error", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			slog.Debug("ignoring non-text message", "player", c.id, "kind", kind)
			continue
		}

		msg, err := protocol.ParseClientMessage(data)
		if err != nil {
			slog.Debug("rejected message", "player", c.id, "error", err)
			continue
		}
		switch m := msg.(type) {
		case protocol.PoseMsg:
			s.sessions.UpdatePose(c.id, scheduler.Pose{Eye: m.Eye(), Yaw: m.Yaw, Pitch: m.Pitch})
		case protocol.SetBlockMsg:
			if err := s.setBlock(m); err != nil {
				slog.Debug("rejected block edit", "player", c.id, "pos", m.Pos(), "error", err)
			}
		}
	}
}

func (s *Server) setBlock(m protocol.SetBlockMsg) error {
	if s.editor == nil {
		return ErrEditsDisabled
	}
	t, err := voxel.ParseBlock(m.Block)
	if err != nil {
		return err
	}
	return s.editor.SetBlock(m.Pos(), t)
}

// statsResponse is the /debug/stats body.
type statsResponse struct {
	Clients int              `json:"clients"`
	Metrics metrics.Snapshot `json:"metrics"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := statsResponse{Clients: s.hub.Count()}
	if s.metrics != nil {
		resp.Metrics = s.metrics.Snapshot()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Warn("encoding stats", "error", err)
	}
}
