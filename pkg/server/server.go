package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/qcx/diario-pipeline/pkg/config"
	"github.com/qcx/diario-pipeline/pkg/logger"
	"github.com/qcx/diario-pipeline/pkg/metrics"
	"github.com/qcx/diario-pipeline/pkg/telemetry"
)

// Runnable is a long-lived background worker hosted alongside the HTTP
// dispatcher, one per pipeline stage consumer (crawl, ocr, analysis,
// webhook).
type Runnable interface {
	// Name identifies the runnable in logs.
	Name() string
	// Run blocks, consuming until ctx is canceled, and returns nil on a
	// clean shutdown.
	Run(ctx context.Context) error
}

// Server hosts the crawl-dispatcher HTTP handler and the pipeline stage
// consumers in a single process, coordinating their startup and graceful
// shutdown.
type Server struct {
	httpServer *http.Server
	config     *config.Config
	telemetry  *telemetry.Provider
	stages     []Runnable
}

// New builds a Server wrapping the dispatcher's HTTP handler and the given
// stage consumers.
func New(cfg *config.Config, handler http.Handler, stages ...Runnable) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
			Handler:      handler,
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
		},
		config: cfg,
		stages: stages,
	}
}

// Run starts telemetry, the metrics server, every stage consumer, and the
// HTTP dispatcher, then blocks until a shutdown signal arrives or one of
// them fails.
func (s *Server) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if s.config.Tracing.Enabled {
		tp, err := telemetry.Init(ctx, telemetry.Config{
			Enabled:     s.config.Tracing.Enabled,
			Endpoint:    s.config.Tracing.Endpoint,
			ServiceName: s.config.Tracing.ServiceName,
			Version:     s.config.App.Version,
			Environment: s.config.App.Environment,
			SampleRate:  s.config.Tracing.SampleRate,
		})
		if err != nil {
			logger.Log.Warn("failed to init telemetry", "error", err)
		} else {
			s.telemetry = tp
			logger.Log.Info("telemetry initialized",
				"endpoint", s.config.Tracing.Endpoint,
				"sample_rate", s.config.Tracing.SampleRate,
			)
		}
	}

	if s.config.Metrics.Enabled {
		go func() {
			logger.Log.Info("starting metrics server",
				"port", s.config.Metrics.Port,
				"path", s.config.Metrics.Path,
			)
			if err := metrics.StartMetricsServer(s.config.Metrics.Port); err != nil {
				logger.Log.Error("metrics server failed", "error", err)
			}
		}()
	}

	if m := metrics.Get(); m != nil {
		m.SetServiceInfo(s.config.App.Version, s.config.App.Environment)
	}

	errCh := make(chan error, 1+len(s.stages))

	for _, stage := range s.stages {
		stage := stage
		go func() {
			logger.Log.Info("starting stage consumer", "stage", stage.Name())
			if err := stage.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("stage %s: %w", stage.Name(), err)
			}
		}()
	}

	lc := net.ListenConfig{}
	lis, err := lc.Listen(ctx, "tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	go func() {
		logger.Log.Info("starting dispatcher",
			"service", s.config.App.Name,
			"addr", s.httpServer.Addr,
			"environment", s.config.App.Environment,
			"version", s.config.App.Version,
		)
		if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	return s.waitForShutdown(cancel, errCh)
}

func (s *Server) waitForShutdown(cancel context.CancelFunc, errCh chan error) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		cancel()
		return err
	case sig := <-quit:
		logger.Log.Info("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.config.HTTP.ShutdownTimeout+20*time.Second)
	defer shutdownCancel()

	// Stop accepting new stage work first, then let the HTTP dispatcher
	// drain in-flight requests.
	cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Log.Warn("forcing dispatcher close", "error", err)
		_ = s.httpServer.Close()
	}

	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(shutdownCtx); err != nil {
			logger.Log.Warn("failed to shutdown telemetry", "error", err)
		}
	}

	logger.Log.Info("server stopped")
	return nil
}
