package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"claw-companion/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestOverallStatus(t *testing.T) {
	ctx := context.Background()
	c := NewChecker(logger.Nop(), time.Minute)

	dbErr := error(nil)
	c.RegisterDatabaseCheck(func(context.Context) error { return dbErr })
	syncStatus := StatusUp
	c.RegisterCheck("sync", false, func(context.Context) (Status, string, error) {
		return syncStatus, "", nil
	})

	var seen []Status
	c.OnChange(func(s Status) { seen = append(seen, s) })

	c.RunChecks(ctx)
	assert.Equal(t, StatusUp, c.Overall())

	syncStatus = StatusDegraded
	c.RunChecks(ctx)
	assert.Equal(t, StatusDegraded, c.Overall())
	assert.True(t, c.IsSystemHealthy())

	dbErr = errors.New("connection refused")
	c.RunChecks(ctx)
	assert.Equal(t, StatusDown, c.Overall())
	assert.False(t, c.IsSystemHealthy())
	assert.Equal(t, "connection refused", c.GetStatus()["database"].Error)

	assert.Equal(t, []Status{StatusUp, StatusDegraded, StatusDown}, seen)
}

func TestUncheckedCriticalIsDown(t *testing.T) {
	c := NewChecker(logger.Nop(), time.Minute)
	c.RegisterDatabaseCheck(func(context.Context) error { return nil })
	assert.Equal(t, StatusDown, c.Overall())
}

func TestGRPCHealthFollowsChecker(t *testing.T) {
	ctx := context.Background()
	c := NewChecker(logger.Nop(), time.Minute)
	var dbErr error
	c.RegisterDatabaseCheck(func(context.Context) error { return dbErr })
	c.RunChecks(ctx)

	_, hs := NewGRPCServer(c)
	resp, err := hs.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	dbErr = errors.New("gone")
	c.RunChecks(ctx)
	resp, err = hs.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)
}
