package gateway

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/neuragate/gateway/internal/config"
	"github.com/neuragate/gateway/internal/logging"
)

// Server runs the gateway behind an HTTP listener with a graceful
// lifecycle: background workers stop only after the listener has
// drained in-flight requests.
type Server struct {
	gateway *Gateway
	httpSrv *http.Server
	cfg     *config.Config

	cancelBG context.CancelFunc
	bg       *errgroup.Group
}

// NewServer creates a server around a freshly wired gateway.
func NewServer(cfg *config.Config) (*Server, error) {
	gw, err := New(cfg)
	if err != nil {
		return nil, err
	}

	return &Server{
		gateway: gw,
		cfg:     cfg,
		httpSrv: &http.Server{
			Addr:         cfg.Server.Address,
			Handler:      gw.Handler(),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}, nil
}

// Start installs the initial snapshot, launches the background workers
// and the listener, and returns once the listener is running.
func (s *Server) Start() error {
	if err := s.gateway.Rebuild(context.Background()); err != nil {
		return err
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	s.cancelBG = cancel
	s.bg, bgCtx = errgroup.WithContext(bgCtx)

	s.bg.Go(func() error {
		s.gateway.WatchRoutes(bgCtx)
		return nil
	})
	s.bg.Go(func() error {
		s.gateway.pub.Run(bgCtx)
		return nil
	})

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Gateway listening", zap.String("address", s.cfg.Server.Address))
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		cancel()
		return err
	default:
	}
	return nil
}

// Run starts the server and blocks until SIGINT or SIGTERM, then
// shuts down gracefully within the configured drain timeout.
func (s *Server) Run() error {
	if err := s.Start(); err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logging.Info("Shutting down", zap.String("signal", sig.String()))

	return s.Shutdown()
}

// Shutdown drains the listener, stops the background workers, flushes
// telemetry, and releases the gateway's resources.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Shutdown.DrainTimeout)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		logging.Error("Listener drain incomplete", zap.Error(err))
	}

	if s.cancelBG != nil {
		s.cancelBG()
		s.bg.Wait()
	}

	s.gateway.pub.Close(ctx)

	if err := s.gateway.Close(); err != nil {
		logging.Error("Gateway close error", zap.Error(err))
		return err
	}

	logging.Info("Shutdown complete")
	return nil
}
