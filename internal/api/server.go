// Package api hosts the process listeners: the REST API over HTTP and the
// gRPC health service.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"zhunleme/internal/config"
)

// Server is the main API server that hosts HTTP and gRPC endpoints.
type Server struct {
	httpAddr string
	grpcAddr string
	http     *http.Server
	grpc     *grpc.Server
	monitor  *HealthMonitor
	log      *slog.Logger
}

// NewServer creates a Server for handler. The gRPC listener is enabled when
// cfg.GRPCAddr() is set and monitor is not nil.
func NewServer(cfg *config.Config, handler http.Handler, monitor *HealthMonitor, log *slog.Logger) *Server {
	s := &Server{
		httpAddr: cfg.HTTPAddr(),
		grpcAddr: cfg.GRPCAddr(),
		http: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		monitor: monitor,
		log:     log,
	}
	if s.grpcAddr != "" && monitor != nil {
		s.grpc = grpc.NewServer()
		monitor.Register(s.grpc)
	}
	return s
}

// ListenAndServe opens the configured listeners and serves until ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	hl, err := net.Listen("tcp", s.httpAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpAddr, err)
	}
	var gl net.Listener
	if s.grpc != nil {
		if gl, err = net.Listen("tcp", s.grpcAddr); err != nil {
			hl.Close()
			return fmt.Errorf("listening on %s: %w", s.grpcAddr, err)
		}
	}
	return s.Serve(ctx, hl, gl)
}

// Serve serves on the given listeners until ctx is cancelled, then shuts both
// servers down. gl may be nil.
func (s *Server) Serve(ctx context.Context, hl, gl net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("HTTP server listening", "addr", hl.Addr().String())
		if err := s.http.Serve(hl); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if gl != nil && s.grpc != nil {
		g.Go(func() error {
			s.log.Info("gRPC server listening", "addr", gl.Addr().String())
			if err := s.grpc.Serve(gl); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}
	if s.monitor != nil {
		g.Go(func() error {
			s.monitor.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown performs a graceful shutdown of the HTTP and gRPC servers.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.log.Info("servers stopped")
	return nil
}
