package ws

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/saker-ai/julius-bridge/internal/protocol"
)

type incomingHandler func(context.Context, protocol.ClientCommand)

func (s *session) dispatchIncoming(ctx context.Context, msg protocol.ClientCommand) {
	handlers := map[string]incomingHandler{
		protocol.TypeSendCommand:      s.onSendCommand,
		protocol.TypeFetchStatus:      s.onFetchStatus,
		protocol.TypeFetchHistoryList: s.onFetchHistoryList,
		protocol.TypeFetchHistory:     s.onFetchHistory,
		protocol.TypeHeartbeat:        s.onHeartbeat,
	}

	if handler, ok := handlers[msg.Type]; ok {
		handler(ctx, msg)
		return
	}
	s.logger.Debug("ws unknown message type",
		zap.String("session_id", s.clientUID),
		zap.String("type", msg.Type),
	)
}

func (s *session) onSendCommand(ctx context.Context, msg protocol.ClientCommand) {
	command := strings.TrimSpace(msg.Command)
	if msg.Preset != "" {
		if s.handler.presets == nil {
			s.sendJSON(protocol.ErrorEvent(msg.RequestID, errors.New("no presets configured")))
			return
		}
		preset, err := s.handler.presets.Lookup(msg.Preset)
		if err != nil {
			s.sendJSON(protocol.ErrorEvent(msg.RequestID, err))
			return
		}
		command = preset.Command
	}
	if command == "" {
		s.sendJSON(protocol.ErrorEvent(msg.RequestID, errors.New("command is empty")))
		return
	}
	if err := s.handler.backend.SendCommand(ctx, command); err != nil {
		s.sendJSON(protocol.ErrorEvent(msg.RequestID, err))
		return
	}
	ok := true
	s.sendJSON(protocol.Event{
		Type:      protocol.EventCommandResult,
		RequestID: msg.RequestID,
		Success:   &ok,
		Message:   command,
		Timestamp: time.Now(),
	})
}

func (s *session) onFetchStatus(_ context.Context, msg protocol.ClientCommand) {
	s.sendStatus(msg.RequestID)
}

func (s *session) onFetchHistoryList(_ context.Context, msg protocol.ClientCommand) {
	if s.handler.history == nil {
		s.sendJSON(protocol.ErrorEvent(msg.RequestID, errHistoryDisabled))
		return
	}
	s.sendJSON(protocol.Event{
		Type:      protocol.EventHistoryList,
		Data:      s.handler.history.List(),
		RequestID: msg.RequestID,
		Timestamp: time.Now(),
	})
}

func (s *session) onFetchHistory(_ context.Context, msg protocol.ClientCommand) {
	if msg.HistoryUID == "" {
		return
	}
	if s.handler.history == nil {
		s.sendJSON(protocol.ErrorEvent(msg.RequestID, errHistoryDisabled))
		return
	}
	records, err := s.handler.history.Get(msg.HistoryUID)
	if err != nil {
		s.sendJSON(protocol.ErrorEvent(msg.RequestID, err))
		return
	}
	s.sendJSON(protocol.Event{
		Type:       protocol.EventHistory,
		Data:       records,
		HistoryUID: msg.HistoryUID,
		RequestID:  msg.RequestID,
		Timestamp:  time.Now(),
	})
}

func (s *session) onHeartbeat(_ context.Context, msg protocol.ClientCommand) {
	s.sendJSON(protocol.Event{Type: protocol.EventHeartbeatAck, RequestID: msg.RequestID, Timestamp: time.Now()})
}
