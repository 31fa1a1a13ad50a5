package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saker-ai/julius-bridge/internal/bridge"
	"github.com/saker-ai/julius-bridge/internal/bus"
	appconfig "github.com/saker-ai/julius-bridge/internal/config"
	apphttp "github.com/saker-ai/julius-bridge/internal/http"
	applogger "github.com/saker-ai/julius-bridge/internal/logger"
	"github.com/saker-ai/julius-bridge/internal/metrics"
	"github.com/saker-ai/julius-bridge/internal/storage"
	"github.com/saker-ai/julius-bridge/internal/ws"
)

const shutdownTimeout = 5 * time.Second

// Server owns the HTTP listener, the bridge service and their dependencies.
type Server struct {
	cfg    appconfig.Config
	logger *zap.Logger
	server *http.Server
	bridge *bridge.Service
	bus    *bus.Publisher

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
}

// New loads configuration from configPath (empty for the default lookup)
// and builds a Server.
func New(configPath string) (*Server, error) {
	cfg, err := appconfig.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load bridge config: %w", err)
	}

	logger, err := applogger.New(cfg.Log)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	logger.Info("bridge logger configured",
		zap.String("level", cfg.Log.Level),
		zap.Bool("stdout", cfg.Log.Stdout),
		zap.Bool("file_enabled", cfg.Log.File.Enabled),
		zap.String("file_path", cfg.Log.File.Path),
		zap.String("file_name", cfg.Log.File.Name),
	)
	logger.Info("bridge config loaded",
		zap.String("config_path", configPath),
		zap.String("root_dir", cfg.RootDir),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("julius_addr", cfg.Julius.ClientConfig().Addr()),
	)
	return NewWithConfig(context.Background(), cfg, logger)
}

// NewWithConfig wires a Server from an already loaded configuration.
func NewWithConfig(ctx context.Context, cfg appconfig.Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	presets, err := appconfig.ReadPresets(cfg.PresetsPath)
	if err != nil {
		return nil, fmt.Errorf("load presets: %w", err)
	}

	m := metrics.New()
	deps := apphttp.Deps{Presets: presets}
	if cfg.Metrics.Enabled {
		deps.Metrics = m.Handler()
	}

	opts := bridge.Options{
		Config:  cfg.Julius,
		Logger:  logger,
		Metrics: m,
	}

	var history *storage.Store
	if cfg.History.Enabled {
		history, err = storage.NewStore(cfg.History.Dir, cfg.History.Engine)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		opts.History = history
		deps.History = history
	}

	var publisher *bus.Publisher
	if cfg.Bus.Enabled {
		publisher, err = bus.Connect(ctx, cfg.Bus, logger)
		if err != nil {
			return nil, err
		}
		opts.Publisher = publisher
	}

	svc := bridge.New(opts)
	var historyReader ws.HistoryReader
	if history != nil {
		historyReader = history
	}
	wsHandler := ws.NewHandler(logger, svc, historyReader, presets)
	// The hub is created after the service it serves.
	svc.SetBroadcaster(wsHandler)

	deps.Backend = svc
	deps.WS = wsHandler
	router := apphttp.NewRouter(cfg, deps, logger)

	return &Server{
		cfg:    cfg,
		logger: logger,
		bridge: svc,
		bus:    publisher,
		server: &http.Server{
			Addr:    cfg.HTTPAddr,
			Handler: router,
		},
	}, nil
}

// Run serves HTTP and runs the bridge until ctx is cancelled, Shutdown is
// called or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.server.Addr, err)
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.listener = ln
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		s.logger.Info("starting http server", zap.String("addr", ln.Addr().String()))
		return ignoreServerClosed(s.server.Serve(ln))
	})
	g.Go(func() error {
		if err := s.bridge.Run(gctx); err != nil {
			s.logger.Warn("bridge stopped", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return ignoreServerClosed(s.server.Shutdown(shutdownCtx))
	})

	err = g.Wait()
	if s.bus != nil {
		s.bus.Close()
	}
	return err
}

// Addr returns the bound address once Run is listening, else the configured one.
func (s *Server) Addr() string {
	if s == nil || s.server == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}

// Bridge returns the bridge service.
func (s *Server) Bridge() *bridge.Service {
	return s.bridge
}

// Logger returns the process logger.
func (s *Server) Logger() *zap.Logger {
	return s.logger
}

// Shutdown stops the bridge and the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return ignoreServerClosed(s.server.Shutdown(ctx))
}

func ignoreServerClosed(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
