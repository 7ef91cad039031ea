package listener

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pingcap/log"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/helixdb/helix/settings"
)

// mgmtListener is the management (binary protocol) listener: a gRPC
// server bound to the configured host/port. Administrative services are
// registered through RegisterService before start.
type mgmtListener struct {
	spec     settings.Port
	register func(*grpc.Server)

	mu  sync.Mutex
	srv *grpc.Server
	lis net.Listener
}

func newManagementListener(spec settings.Port) *mgmtListener {
	return &mgmtListener{spec: spec}
}

// Start binds the socket and begins serving. A gRPC server cannot serve
// again after a stop, so each start builds a fresh one; the management
// rollback path restarts a previously stopped listener.
func (m *mgmtListener) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", m.spec.Address, m.spec.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	alivePolicy := keepalive.EnforcementPolicy{
		MinTime:             2 * time.Second,
		PermitWithoutStream: true,
	}
	srv := grpc.NewServer(
		grpc.KeepaliveEnforcementPolicy(alivePolicy),
		grpc.InitialWindowSize(1<<30),
		grpc.InitialConnWindowSize(1<<30),
		grpc.MaxRecvMsgSize(10*1024*1024),
	)
	if m.register != nil {
		m.register(srv)
	}

	m.mu.Lock()
	m.srv, m.lis = srv, lis
	m.mu.Unlock()

	go func() {
		if err := srv.Serve(lis); err != nil && err != grpc.ErrServerStopped {
			log.Error("management listener terminated",
				zap.Stringer("addr", m.spec), zap.Error(err))
		}
	}()
	return nil
}

func (m *mgmtListener) Stop(ctx context.Context) error {
	m.mu.Lock()
	srv := m.srv
	m.srv, m.lis = nil, nil
	m.mu.Unlock()
	if srv == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		srv.Stop()
		<-done
	}
	return nil
}
