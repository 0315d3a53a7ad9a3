package grpcapi_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/lanegate/server/internal/clock"
	"github.com/lanegate/server/internal/grpcapi"
	"github.com/lanegate/server/internal/lanegate/reader"
	"github.com/lanegate/server/internal/lanegate/types"
)

const bufSize = 1024 * 1024

func startServer(t *testing.T, reg *reader.Registry) healthpb.HealthClient {
	t.Helper()

	lis := bufconn.Listen(bufSize)
	srv := grpcapi.NewServer("", reg, zap.NewNop())
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return healthpb.NewHealthClient(conn)
}

func check(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func newRegistry() *reader.Registry {
	reg := reader.NewRegistry(clock.Real())
	reg.Register(reader.Endpoint{ReaderID: 1, LaneID: 1})
	reg.Register(reader.Endpoint{ReaderID: 2, LaneID: 2})
	return reg
}

func TestHealth_ProcessServing(t *testing.T) {
	c := startServer(t, newRegistry())

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, c, ""))
}

func TestHealth_NoReaderConnected(t *testing.T) {
	c := startServer(t, newRegistry())

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, grpcapi.ReadersService))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, grpcapi.ReaderService(1)))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, grpcapi.ReaderService(2)))
}

func TestHealth_FollowsRegistry(t *testing.T) {
	reg := newRegistry()
	c := startServer(t, reg)

	reg.SetState(2, types.ReaderConnected, nil)

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, c, grpcapi.ReadersService))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, grpcapi.ReaderService(1)))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, c, grpcapi.ReaderService(2)))

	reg.SetState(2, types.ReaderOffline, nil)

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, grpcapi.ReadersService))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, grpcapi.ReaderService(2)))
}

func TestHealth_UnknownServiceNotFound(t *testing.T) {
	c := startServer(t, newRegistry())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: grpcapi.ReaderService(99)})
	assert.Error(t, err)
}
