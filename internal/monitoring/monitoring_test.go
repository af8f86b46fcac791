package monitoring_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/solarops/activity/internal/monitoring"
)

func TestHealthManagerEvaluate(t *testing.T) {
	manager := monitoring.NewHealthManager()
	manager.RegisterReadiness(monitoring.NewCheck("database", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusUp}
	}))
	manager.RegisterReadiness(monitoring.NewCheck("kv", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "connection refused"}
	}))

	report := manager.EvaluateReadiness(context.Background())
	require.False(t, report.Success)
	require.Equal(t, monitoring.StatusDown, report.Status)
	require.Len(t, report.Checks, 2)
	require.Equal(t, "kv", report.Checks[1].Component)

	live := manager.EvaluateLiveness(context.Background())
	require.True(t, live.Success)
	require.Empty(t, live.Checks)
}

func TestHealthManagerDegradedAndPanics(t *testing.T) {
	manager := monitoring.NewHealthManager()
	manager.RegisterLiveness(monitoring.NewCheck("slow", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ResultFromError(context.DeadlineExceeded, time.Second)
	}))
	manager.RegisterLiveness(monitoring.Check{})

	report := manager.EvaluateLiveness(context.Background())
	require.Equal(t, monitoring.StatusDegraded, report.Status)
	require.Len(t, report.Checks, 1)

	manager.RegisterLiveness(monitoring.NewCheck("broken", func(ctx context.Context) monitoring.ProbeResult {
		panic(errors.New("probe exploded"))
	}))
	report = manager.EvaluateLiveness(context.Background())
	require.Equal(t, monitoring.StatusDown, report.Status)
	require.Equal(t, "broken", report.Checks[1].Component)
	require.Equal(t, "probe exploded", report.Checks[1].Details)
}

func TestResultFromError(t *testing.T) {
	require.Equal(t, monitoring.StatusUp, monitoring.ResultFromError(nil, -time.Second).Status)
	require.Equal(t, monitoring.StatusDown, monitoring.ResultFromError(errors.New("refused"), 0).Status)
	require.Equal(t, monitoring.StatusDegraded, monitoring.ResultFromError(context.Canceled, 0).Status)
}
