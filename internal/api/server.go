// Package api hosts the backtester's network listeners: the HTTP REST API
// and the gRPC backtest service with its health endpoint.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var timeNow = time.Now

const shutdownTimeout = 10 * time.Second

// Server hosts the HTTP handler and, when grpcAddr is set, the gRPC
// service.
type Server struct {
	httpAddr string
	grpcAddr string
	log      *slog.Logger

	httpServer *http.Server
	grpcServer *grpc.Server
	health     *health.Server
}

// NewServer creates a Server. An empty grpcAddr disables gRPC.
func NewServer(httpAddr, grpcAddr string, handler http.Handler, backtests BacktestServer, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		httpAddr: httpAddr,
		grpcAddr: grpcAddr,
		log:      log.With("component", "api"),
		httpServer: &http.Server{
			Addr:              httpAddr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	if grpcAddr != "" {
		s.grpcServer = grpc.NewServer()
		s.health = health.NewServer()
		RegisterBacktestServer(s.grpcServer, backtests)
		healthpb.RegisterHealthServer(s.grpcServer, s.health)
		s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	}
	return s
}

// ListenAndServe starts the HTTP and gRPC listeners and blocks until the
// context is cancelled or a listener fails. Cancellation triggers a graceful
// shutdown.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpLn, err := net.Listen("tcp", s.httpAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpAddr, err)
	}
	var grpcLn net.Listener
	if s.grpcServer != nil {
		grpcLn, err = net.Listen("tcp", s.grpcAddr)
		if err != nil {
			httpLn.Close()
			return fmt.Errorf("listening on %s: %w", s.grpcAddr, err)
		}
	}
	return s.Serve(ctx, httpLn, grpcLn)
}

// Serve runs on already open listeners. grpcLn may be nil.
func (s *Server) Serve(ctx context.Context, httpLn, grpcLn net.Listener) error {
	errc := make(chan error, 2)

	s.log.Info("http listening", "addr", httpLn.Addr().String())
	go func() {
		if err := s.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http server: %w", err)
		}
	}()

	if grpcLn != nil && s.grpcServer != nil {
		s.log.Info("grpc listening", "addr", grpcLn.Addr().String())
		go func() {
			if err := s.grpcServer.Serve(grpcLn); err != nil {
				errc <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err := <-errc:
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
		return err
	}
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down")
	if s.grpcServer != nil {
		s.health.Shutdown()
		done := make(chan struct{})
		go func() {
			s.grpcServer.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			s.grpcServer.Stop()
		}
	}
	return s.httpServer.Shutdown(ctx)
}
