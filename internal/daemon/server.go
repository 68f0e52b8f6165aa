package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/matheus3301/wpprelay/internal/bus"
	"github.com/matheus3301/wpprelay/internal/client"
	"github.com/matheus3301/wpprelay/internal/status"
)

// HealthService is the gRPC health service name that tracks the WhatsApp
// connection. It is SERVING only while the connection is open.
const HealthService = client.HealthService

// Server exposes the gRPC health service on the session's Unix domain socket.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
	socketPath string
	bus        *bus.Bus
	logger     *zap.Logger

	started bool
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewServer creates a gRPC server bound to socketPath.
func NewServer(socketPath string, b *bus.Bus, logger *zap.Logger) (*Server, error) {
	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	hs := health.NewServer()
	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &Server{
		grpcServer: srv,
		health:     hs,
		listener:   listener,
		socketPath: socketPath,
		bus:        b,
		logger:     logger,
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}, nil
}

// Start follows status changes on the bus and serves in the background.
func (s *Server) Start() {
	s.started = true
	ch, unsub := s.bus.Subscribe("session.", 64)
	go func() {
		defer close(s.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				if evt.Kind != bus.KindStatusChanged {
					continue
				}
				if change, ok := evt.Payload.(status.StatusChange); ok {
					s.SetState(change.To)
				}
			case <-s.quit:
				return
			}
		}
	}()

	s.logger.Info("gRPC server starting", zap.String("socket", s.socketPath))
	go func() {
		if err := s.grpcServer.Serve(s.listener); err != nil {
			s.logger.Error("gRPC server error", zap.Error(err))
		}
	}()
}

// SetState maps a connection state onto the health service status.
func (s *Server) SetState(st status.State) {
	serving := healthpb.HealthCheckResponse_NOT_SERVING
	if st == status.Open {
		serving = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(HealthService, serving)
}

// Stop performs a graceful shutdown and removes the socket file.
func (s *Server) Stop(_ context.Context) {
	s.once.Do(func() {
		s.logger.Info("gRPC server stopping")
		s.health.Shutdown()
		close(s.quit)
		if s.started {
			<-s.done
		} else {
			_ = s.listener.Close()
		}
		s.grpcServer.GracefulStop()
		_ = os.Remove(s.socketPath)
	})
}
