package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/saker-ai/julius-bridge/internal/protocol"
)

const writeTimeout = 5 * time.Second

var errHistoryDisabled = errors.New("history is disabled")

// Handler upgrades browser connections and fans bridge events out to them.
type Handler struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader
	backend  Backend
	history  HistoryReader
	presets  PresetLookup
	sessions map[string]*session
	mu       sync.Mutex
}

type session struct {
	conn      *websocket.Conn
	sendMu    sync.Mutex
	logger    *zap.Logger
	handler   *Handler
	clientUID string
}

// NewHandler builds a hub. history and presets may be nil.
func NewHandler(logger *zap.Logger, backend Backend, history HistoryReader, presets PresetLookup) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		logger:   logger,
		backend:  backend,
		history:  history,
		presets:  presets,
		sessions: make(map[string]*session),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Handle serves one websocket session until the peer disconnects.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := &session{
		conn:      conn,
		logger:    h.logger,
		handler:   h,
		clientUID: uuid.NewString(),
	}
	sess.logger.Info("ws session opened",
		zap.String("session_id", sess.clientUID),
		zap.String("remote_addr", r.RemoteAddr),
	)

	h.registerSession(sess)
	sess.sendStatus("")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			sess.logger.Debug("ws connection closed", zap.Error(err))
			break
		}
		var msg protocol.ClientCommand
		if err := json.Unmarshal(data, &msg); err != nil {
			sess.sendJSON(protocol.ErrorEvent("", errors.New("invalid json")))
			continue
		}
		if msg.Type != protocol.TypeHeartbeat {
			sess.logger.Debug("ws incoming message",
				zap.String("session_id", sess.clientUID),
				zap.String("type", msg.Type),
			)
		}
		sess.dispatchIncoming(ctx, msg)
	}

	sess.logger.Info("ws session closed", zap.String("session_id", sess.clientUID))
	h.unregisterSession(sess.clientUID)
}

// Broadcast sends event to every session. Calls from one goroutine are
// delivered to each session in call order.
func (h *Handler) Broadcast(event protocol.Event) {
	h.mu.Lock()
	sessions := make([]*session, 0, len(h.sessions))
	for _, sess := range h.sessions {
		sessions = append(sessions, sess)
	}
	h.mu.Unlock()

	for _, sess := range sessions {
		sess.sendJSON(event)
	}
}

// SessionCount returns the number of open sessions.
func (h *Handler) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

func (s *session) sendJSON(payload any) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteJSON(payload); err != nil {
		s.logger.Debug("ws send failed",
			zap.String("session_id", s.clientUID),
			zap.Error(err),
		)
	}
}

func (s *session) sendStatus(requestID string) {
	status := s.handler.backend.Status()
	s.sendJSON(protocol.Event{
		Type:      protocol.EventStatus,
		Status:    &status,
		RequestID: requestID,
		Timestamp: time.Now(),
	})
}

func (h *Handler) registerSession(sess *session) {
	h.mu.Lock()
	h.sessions[sess.clientUID] = sess
	h.mu.Unlock()
}

func (h *Handler) unregisterSession(clientUID string) {
	h.mu.Lock()
	delete(h.sessions, clientUID)
	h.mu.Unlock()
}
