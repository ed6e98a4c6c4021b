package ports

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChecker struct {
	name string
	err  error
}

func (s *stubChecker) Name() string { return s.name }

func (s *stubChecker) Check(context.Context) error { return s.err }

type blockingChecker struct{ name string }

func (b *blockingChecker) Name() string { return b.name }

func (b *blockingChecker) Check(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Second):
		return nil
	}
}

func TestHealthRegistry_Register(t *testing.T) {
	registry := NewHealthRegistry()

	require.NoError(t, registry.Register(&stubChecker{name: "storage"}))
	require.NoError(t, registry.Register(&stubChecker{name: "quote-source"}))

	err := registry.Register(&stubChecker{name: "storage"})
	require.ErrorIs(t, err, ErrDuplicateChecker)
	assert.Contains(t, err.Error(), "storage")
	assert.Equal(t, 2, registry.Len())
}

func TestHealthRegistry_CheckAll(t *testing.T) {
	type entry struct {
		checker HealthChecker
		opts    []CheckOption
	}

	tests := []struct {
		name       string
		entries    []entry
		wantStatus HealthStatus
		wantFailed map[string]string
	}{
		{
			name:       "no checkers",
			wantStatus: HealthStatusHealthy,
		},
		{
			name: "all healthy",
			entries: []entry{
				{checker: &stubChecker{name: "storage"}},
				{checker: &stubChecker{name: "task-queue"}},
			},
			wantStatus: HealthStatusHealthy,
		},
		{
			name: "critical failure",
			entries: []entry{
				{checker: &stubChecker{name: "storage", err: errors.New("disk I/O error")}},
				{checker: &stubChecker{name: "quote-source"}, opts: []CheckOption{NonCritical()}},
			},
			wantStatus: HealthStatusUnhealthy,
			wantFailed: map[string]string{"storage": "disk I/O error"},
		},
		{
			name: "non-critical failure degrades",
			entries: []entry{
				{checker: &stubChecker{name: "storage"}},
				{checker: &stubChecker{name: "quote-source", err: errors.New("circuit open")}, opts: []CheckOption{NonCritical()}},
			},
			wantStatus: HealthStatusDegraded,
			wantFailed: map[string]string{"quote-source": "circuit open"},
		},
		{
			name: "critical failure outranks degraded",
			entries: []entry{
				{checker: &stubChecker{name: "quote-source", err: errors.New("circuit open")}, opts: []CheckOption{NonCritical()}},
				{checker: &stubChecker{name: "storage", err: errors.New("locked")}},
			},
			wantStatus: HealthStatusUnhealthy,
			wantFailed: map[string]string{"quote-source": "circuit open", "storage": "locked"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := NewHealthRegistry()
			for _, e := range tt.entries {
				require.NoError(t, registry.Register(e.checker, e.opts...))
			}

			result := registry.CheckAll(context.Background())

			require.NotNil(t, result)
			assert.Equal(t, tt.wantStatus, result.Status)
			assert.Len(t, result.Checks, len(tt.entries))
			assert.False(t, result.Timestamp.IsZero())

			for name, check := range result.Checks {
				if msg, failed := tt.wantFailed[name]; failed {
					assert.Equal(t, HealthStatusUnhealthy, check.Status)
					assert.Equal(t, msg, check.Message)
				} else {
					assert.Equal(t, HealthStatusHealthy, check.Status)
					assert.Empty(t, check.Message)
				}
			}

			if qs, ok := result.Checks["quote-source"]; ok {
				assert.False(t, qs.Critical)
			}
		})
	}
}

func TestHealthRegistry_CheckTimeout(t *testing.T) {
	registry := NewHealthRegistry()
	require.NoError(t, registry.Register(&blockingChecker{name: "storage"}, WithCheckTimeout(20*time.Millisecond)))

	start := time.Now()
	result := registry.CheckAll(context.Background())

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, HealthStatusUnhealthy, result.Status)
	assert.Contains(t, result.Checks["storage"].Message, "deadline exceeded")
}

func TestHealthRegistry_CheckAllHonoursCancellation(t *testing.T) {
	registry := NewHealthRegistry()
	require.NoError(t, registry.Register(&blockingChecker{name: "quote-source"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := registry.CheckAll(ctx)

	assert.Equal(t, HealthStatusUnhealthy, result.Status)
	assert.Contains(t, result.Checks["quote-source"].Message, "context canceled")
}
