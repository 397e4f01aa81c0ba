package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"

	"github.com/arcadia-ml/mimic/pkg/telemetry"
)

// ServerConfig configures the gRPC front end.
type ServerConfig struct {
	Port       int
	SSLDir     string // Directory holding cert.pem and key.pem; empty serves plaintext.
	MaxWorkers int    // Bound on concurrent stream workers, default 10.
}

// Server owns the gRPC listener for the training service.
type Server struct {
	config  ServerConfig
	grpc    *grpc.Server
	service *Service
}

// NewServer assembles the gRPC server around a service.
func NewServer(service *Service, cfg ServerConfig, metrics *telemetry.Metrics) (*Server, error) {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 10
	}
	opts := []grpc.ServerOption{
		grpc.NumStreamWorkers(uint32(cfg.MaxWorkers)),
		grpc.ChainUnaryInterceptor(unaryTelemetry(metrics)),
	}
	if cfg.SSLDir != "" {
		creds, err := credentials.NewServerTLSFromFile(
			filepath.Join(cfg.SSLDir, "cert.pem"),
			filepath.Join(cfg.SSLDir, "key.pem"))
		if err != nil {
			return nil, fmt.Errorf("loading TLS credentials: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	} else {
		slog.Warn("No --ssl_dir provided, serving plaintext gRPC")
	}
	s := &Server{
		config:  cfg,
		grpc:    grpc.NewServer(opts...),
		service: service,
	}
	service.Register(s.grpc)
	return s, nil
}

// Run serves until the context is cancelled, then drains gracefully.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("listening on port %d: %w", s.config.Port, err)
	}
	slog.Info("API server listening", "addr", listener.Addr().String())

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			slog.Info("Draining API server")
			s.grpc.GracefulStop()
		case <-done:
		}
	}()
	err = s.grpc.Serve(listener)
	close(done)
	return err
}

// unaryTelemetry records latency and status metrics and logs failures.
func unaryTelemetry(metrics *telemetry.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo,
		next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		elapsed := time.Since(start)
		code := status.Code(err)
		if metrics != nil {
			metrics.RPCRequests.WithLabelValues(info.FullMethod, code.String()).Inc()
			metrics.RPCLatency.WithLabelValues(info.FullMethod).Observe(elapsed.Seconds())
		}
		if err != nil {
			slog.Warn("RPC failed", "method", info.FullMethod,
				"code", code.String(), "duration", elapsed, "error", err)
		} else {
			slog.Debug("RPC complete", "method", info.FullMethod, "duration", elapsed)
		}
		return resp, err
	}
}
