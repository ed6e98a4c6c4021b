package ports

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultCheckTimeout bounds a single health check.
const DefaultCheckTimeout = 2 * time.Second

// ErrDuplicateChecker is returned when a checker name is registered twice.
var ErrDuplicateChecker = errors.New("duplicate health checker")

// HealthChecker is implemented by components that can report their health.
type HealthChecker interface {
	// Name identifies the check in readiness output. It must be unique.
	Name() string

	// Check returns nil when the component is usable.
	Check(ctx context.Context) error
}

// HealthRegistry runs the registered checks for the readiness probe.
type HealthRegistry interface {
	Register(checker HealthChecker, opts ...CheckOption) error
	CheckAll(ctx context.Context) *HealthResult
}

// HealthStatus is the outcome of one check or of all of them.
type HealthStatus string

// Health statuses. Degraded means only non-critical checks failed.
const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthResult is the combined readiness report.
type HealthResult struct {
	Status    HealthStatus            `json:"status"`
	Checks    map[string]*CheckResult `json:"checks"`
	Timestamp time.Time               `json:"timestamp"`
}

// CheckResult is the report of one check.
type CheckResult struct {
	Status   HealthStatus  `json:"status"`
	Critical bool          `json:"critical"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
}

// CheckOption adjusts how a registered checker is run.
type CheckOption func(*registration)

// NonCritical marks a check whose failure degrades the service without
// making it unready. The remote quote source is one: local reads keep working.
func NonCritical() CheckOption {
	return func(r *registration) { r.critical = false }
}

// WithCheckTimeout overrides DefaultCheckTimeout for one check.
func WithCheckTimeout(d time.Duration) CheckOption {
	return func(r *registration) {
		if d > 0 {
			r.timeout = d
		}
	}
}

type registration struct {
	checker  HealthChecker
	critical bool
	timeout  time.Duration
}

// DefaultHealthRegistry is the HealthRegistry used by the service. It is safe
// for concurrent use.
type DefaultHealthRegistry struct {
	mu     sync.RWMutex
	checks []registration
}

// NewHealthRegistry creates an empty registry.
func NewHealthRegistry() *DefaultHealthRegistry {
	return &DefaultHealthRegistry{}
}

// Register adds checker. Checks are critical unless NonCritical is given.
func (r *DefaultHealthRegistry) Register(checker HealthChecker, opts ...CheckOption) error {
	reg := registration{checker: checker, critical: true, timeout: DefaultCheckTimeout}
	for _, opt := range opts {
		opt(&reg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.checks {
		if existing.checker.Name() == checker.Name() {
			return fmt.Errorf("%w: %s", ErrDuplicateChecker, checker.Name())
		}
	}

	r.checks = append(r.checks, reg)

	return nil
}

// Len returns the number of registered checks.
func (r *DefaultHealthRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.checks)
}

// CheckAll runs every check concurrently, each under its own timeout.
// One failing check never cancels another.
func (r *DefaultHealthRegistry) CheckAll(ctx context.Context) *HealthResult {
	r.mu.RLock()
	checks := append([]registration(nil), r.checks...)
	r.mu.RUnlock()

	results := make([]*CheckResult, len(checks))

	var g errgroup.Group
	for i, reg := range checks {
		g.Go(func() error {
			results[i] = run(ctx, reg)
			return nil
		})
	}

	_ = g.Wait()

	out := &HealthResult{
		Status:    HealthStatusHealthy,
		Checks:    make(map[string]*CheckResult, len(checks)),
		Timestamp: time.Now(),
	}

	for i, reg := range checks {
		res := results[i]
		out.Checks[reg.checker.Name()] = res

		switch {
		case res.Status == HealthStatusHealthy:
		case res.Critical:
			out.Status = HealthStatusUnhealthy
		case out.Status == HealthStatusHealthy:
			out.Status = HealthStatusDegraded
		}
	}

	return out
}

func run(ctx context.Context, reg registration) *CheckResult {
	ctx, cancel := context.WithTimeout(ctx, reg.timeout)
	defer cancel()

	start := time.Now()
	err := reg.checker.Check(ctx)

	res := &CheckResult{
		Status:   HealthStatusHealthy,
		Critical: reg.critical,
		Duration: time.Since(start),
	}

	if err != nil {
		res.Status = HealthStatusUnhealthy
		res.Message = err.Error()
	}

	return res
}
