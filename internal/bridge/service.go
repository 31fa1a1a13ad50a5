// Package bridge keeps a Julius module-server session alive and fans its
// recognition results out to websocket clients, the bus and the history store.
package bridge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saker-ai/julius-bridge/internal/config"
	"github.com/saker-ai/julius-bridge/internal/metrics"
	"github.com/saker-ai/julius-bridge/internal/protocol"
	"github.com/saker-ai/julius-bridge/internal/session/fsm"
	"github.com/saker-ai/julius-bridge/internal/storage"
	"github.com/saker-ai/julius-bridge/pkg/julius"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// Broadcaster receives every event the bridge emits.
type Broadcaster interface {
	Broadcast(event protocol.Event)
}

// Publisher forwards events to an external bus.
type Publisher interface {
	Publish(event protocol.Event) error
}

// HistoryWriter records sessions and sentences.
type HistoryWriter interface {
	Create(meta storage.Record) (string, error)
	Append(uid string, rec storage.Record) error
}

// Options wires a Service. Only Config is required.
type Options struct {
	Config      config.JuliusConfig
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
	Broadcaster Broadcaster
	Publisher   Publisher
	History     HistoryWriter
	// Dialer overrides how the module server is reached.
	Dialer julius.ContextDialer
	// Backoff is the first reconnect delay. It doubles up to 30s.
	Backoff time.Duration
}

// Service runs the connect, dispatch, reconnect loop.
type Service struct {
	cfg         config.JuliusConfig
	clientCfg   julius.Config
	logger      *zap.Logger
	metrics     *metrics.Metrics
	broadcaster Broadcaster
	publisher   Publisher
	history     HistoryWriter
	backoff     time.Duration
	machine     *fsm.Machine

	mu         sync.Mutex
	client     *julius.Client
	historyUID string
}

// New builds a Service in the disconnected state.
func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clientCfg := opts.Config.ClientConfig()
	if opts.Dialer != nil {
		clientCfg.Dialer = opts.Dialer
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = initialBackoff
	}
	machine := fsm.New()
	machine.SetMode(opts.Config.ReconnectMode)
	return &Service{
		cfg:         opts.Config,
		clientCfg:   clientCfg,
		logger:      logger,
		metrics:     opts.Metrics,
		broadcaster: opts.Broadcaster,
		publisher:   opts.Publisher,
		history:     opts.History,
		backoff:     backoff,
		machine:     machine,
	}
}

// SetBroadcaster replaces the event sink. Call it before Run.
func (s *Service) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

// Machine exposes the lifecycle state machine.
func (s *Service) Machine() *fsm.Machine {
	return s.machine
}

// Run blocks until ctx is cancelled, or until the first session ends in
// manual mode. In manual mode the session error, if any, is returned.
func (s *Service) Run(ctx context.Context) error {
	delay := s.backoff
	for {
		if ctx.Err() != nil {
			s.stop()
			return nil
		}
		connected, err := s.runSession(ctx)
		if ctx.Err() != nil {
			s.stop()
			return nil
		}
		if connected {
			delay = s.backoff
		}
		if err != nil {
			s.logger.Warn("julius session ended", zap.Error(err))
		} else {
			s.logger.Info("julius session ended")
		}
		s.setPhase(s.machine.OnDisconnected())
		if s.machine.Mode() == fsm.ModeManual {
			return err
		}

		if s.metrics != nil {
			s.metrics.IncReconnects()
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.stop()
			return nil
		case <-timer.C:
		}
		delay = nextBackoff(delay)
	}
}

// SendCommand writes command to the active session. A trailing newline is
// added when missing.
func (s *Service) SendCommand(ctx context.Context, command string) error {
	client := s.currentClient()
	if client == nil {
		return julius.ErrNotConnected
	}
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	return client.Send(ctx, command, 0)
}

// Status reports the lifecycle state and the current session.
func (s *Service) Status() protocol.Status {
	snap := s.machine.Snapshot()
	status := protocol.Status{
		State:        string(snap.State),
		Mode:         string(snap.Mode),
		JuliusAddr:   s.clientCfg.Addr(),
		Dispatcher:   string(julius.DispatcherIdle),
		Modelize:     s.clientCfg.Modelize,
		Since:        snap.Since,
		Sessions:     snap.Sessions,
		Recognitions: snap.Recognitions,
	}
	s.mu.Lock()
	client := s.client
	status.HistoryUID = s.historyUID
	s.mu.Unlock()
	if client != nil {
		status.Connected = client.State() == julius.StateConnected
		status.Dispatcher = string(client.DispatcherState())
		status.Modelize = client.Modelize()
	}
	return status
}

func (s *Service) runSession(ctx context.Context) (bool, error) {
	s.setPhase(s.machine.OnConnecting())
	hooks := julius.Hooks{
		OnDispatcherExit: func(err error) {
			s.logger.Debug("julius dispatcher exited", zap.Error(err))
		},
	}
	if s.metrics != nil {
		hooks = s.metrics.Hooks(hooks)
	}
	client, err := julius.NewClient(s.clientCfg, hooks, s.logger)
	if err != nil {
		return false, err
	}
	if err := client.Connect(ctx); err != nil {
		return false, err
	}

	uid := s.createHistory()
	s.mu.Lock()
	s.client = client
	s.historyUID = uid
	s.mu.Unlock()
	defer func() {
		client.Stop()
		_ = client.Join(context.Background())
		if err := client.Disconnect(); err != nil && !errors.Is(err, julius.ErrNotConnected) {
			s.logger.Debug("julius disconnect failed", zap.Error(err))
		}
		s.mu.Lock()
		s.client = nil
		s.mu.Unlock()
	}()
	s.setPhase(s.machine.OnConnected())

	if s.cfg.DrainOnConnect {
		if _, err := client.Drain(); err != nil {
			return true, err
		}
	}
	if err := client.Start(ctx); err != nil {
		return true, err
	}
	for _, command := range s.cfg.InitialCommands {
		if err := s.SendCommand(ctx, command); err != nil {
			s.logger.Warn("julius initial command failed",
				zap.String("command", strings.TrimSpace(command)),
				zap.Error(err),
			)
		}
	}

	for {
		result, err := client.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			break
		}
		s.handleResult(result)
	}
	if err := client.Join(ctx); err != nil {
		return true, err
	}
	if err := client.Err(); err != nil {
		s.logger.Info("julius dispatcher ended", zap.Error(err))
	}
	return true, nil
}

func (s *Service) handleResult(result julius.Result) {
	changed := false
	switch result.Kind {
	case julius.ResultSentence:
		changed = s.machine.OnRecognition()
	case julius.ResultDocument:
		root := result.Document.Root
		switch result.Tag() {
		case julius.TagInput:
			changed = s.machine.OnInputStatus(root.Get(julius.AttrStatus))
		case julius.TagSysInfo:
			changed = s.machine.OnProcessStatus(root.Get(julius.AttrProcess))
		case julius.TagRecogOut:
			changed = s.machine.OnRecognition()
		}
	}

	event := protocol.FromResult(result)
	s.mu.Lock()
	event.HistoryUID = s.historyUID
	s.mu.Unlock()

	s.emit(event)
	if result.Kind == julius.ResultSentence {
		s.appendSentence(event.HistoryUID, *result.Sentence)
	}
	if changed {
		s.broadcastStatus()
	}
}

func (s *Service) emit(event protocol.Event) {
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(event)
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(event); err != nil {
			s.logger.Warn("bus publish failed", zap.String("type", event.Type), zap.Error(err))
		}
	}
}

func (s *Service) createHistory() string {
	if s.history == nil {
		return ""
	}
	uid, err := s.history.Create(storage.Record{Addr: s.clientCfg.Addr()})
	if err != nil {
		s.logger.Warn("history create failed", zap.Error(err))
		return ""
	}
	return uid
}

func (s *Service) appendSentence(uid string, sentence julius.Sentence) {
	if s.history == nil || uid == "" {
		return
	}
	words := make([]storage.WordRecord, 0, len(sentence.Words))
	for _, w := range sentence.Words {
		words = append(words, storage.WordRecord{Word: w.Text, Confidence: w.Confidence})
	}
	rec := storage.Record{
		Kind:  storage.KindSentence,
		Text:  sentence.String(),
		Score: sentence.Score,
		Words: words,
		Tag:   julius.TagRecogOut,
	}
	if err := s.history.Append(uid, rec); err != nil {
		s.logger.Warn("history append failed", zap.String("history_uid", uid), zap.Error(err))
	}
}

func (s *Service) setPhase(changed bool) {
	if changed {
		s.broadcastStatus()
	}
}

func (s *Service) broadcastStatus() {
	if s.broadcaster == nil {
		return
	}
	status := s.Status()
	s.broadcaster.Broadcast(protocol.Event{
		Type:      protocol.EventStatus,
		Status:    &status,
		Timestamp: time.Now(),
	})
}

func (s *Service) stop() {
	s.setPhase(s.machine.OnStop())
}

func (s *Service) currentClient() *julius.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

func nextBackoff(delay time.Duration) time.Duration {
	if delay >= maxBackoff {
		return maxBackoff
	}
	return delay * 2
}
