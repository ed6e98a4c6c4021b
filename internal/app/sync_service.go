package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jsamuelsen/quotekeeper/internal/domain"
	"github.com/jsamuelsen/quotekeeper/internal/platform/logging"
	"github.com/jsamuelsen/quotekeeper/internal/ports"
)

// DefaultFetchTimeout bounds a single remote fetch when no timeout is configured.
const DefaultFetchTimeout = 10 * time.Second

// Trigger identifies what started a sync cycle.
type Trigger string

const (
	// TriggerPeriodic cycles are dropped when another cycle is in flight.
	TriggerPeriodic Trigger = "periodic"

	// TriggerManual cycles wait for the writer slot.
	TriggerManual Trigger = "manual"
)

// SyncMode distinguishes the reconciling cycle from the lossy replacement.
type SyncMode string

const (
	SyncModeMerge      SyncMode = "merge"
	SyncModeReplaceAll SyncMode = "replace_all"
)

// Status messages shown when a cycle does not produce a merge outcome.
const (
	MessageFetchFailed = "Failed to sync with server. Local quotes are unchanged."
	MessageSkipped     = "A sync is already in progress."
	MessageReplaced    = "Local quotes were replaced with server data."
)

// SyncResult describes a finished, failed or skipped cycle for presentation.
type SyncResult struct {
	Trigger        Trigger             `json:"trigger"`
	Mode           SyncMode            `json:"mode"`
	Outcome        domain.MergeOutcome `json:"outcome"`
	Failed         bool                `json:"failed"`
	Skipped        bool                `json:"skipped"`
	Message        string              `json:"message"`
	PersistWarning string              `json:"persist_warning,omitempty"`
	Error          string              `json:"error,omitempty"`
	FailedStep     ExecutionStep       `json:"failed_step,omitempty"`
	At             time.Time           `json:"at"`
	Duration       time.Duration       `json:"duration"`
}

// SyncStatusEventType is the event type published after every cycle.
const SyncStatusEventType = "sync.status"

// SyncStatusEvent carries a SyncResult to event subscribers.
type SyncStatusEvent struct {
	Result SyncResult
}

// EventType implements ports.Event.
func (e SyncStatusEvent) EventType() string { return SyncStatusEventType }

// Payload implements ports.Event.
func (e SyncStatusEvent) Payload() any { return e.Result }

// SyncMetrics records cycle outcomes. Implementations must be safe for concurrent use.
type SyncMetrics interface {
	RecordSync(ctx context.Context, result SyncResult, storeSize int)
}

// SyncService is the sync orchestrator. It is the only component that
// reconciles the store with the remote source.
type SyncService struct {
	store        *QuoteStore
	source       ports.QuoteSource
	publisher    ports.EventPublisher
	metrics      SyncMetrics
	exec         *Executor
	fetchTimeout time.Duration
	now          func() time.Time
	logger       *slog.Logger

	inFlight atomic.Bool

	mu   sync.RWMutex
	last *SyncResult
}

// SyncServiceConfig contains the dependencies of SyncService.
// Store and Source are required.
type SyncServiceConfig struct {
	Store        *QuoteStore
	Source       ports.QuoteSource
	Publisher    ports.EventPublisher
	Metrics      SyncMetrics
	FetchTimeout time.Duration
	Now          func() time.Time
	Logger       *slog.Logger
}

// NewSyncService creates the orchestrator.
func NewSyncService(cfg SyncServiceConfig) *SyncService {
	if cfg.Store == nil || cfg.Source == nil {
		panic("app: NewSyncService requires a store and a quote source")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	logger = logger.With(slog.String("component", "app.SyncService"))

	return &SyncService{
		store:        cfg.Store,
		source:       cfg.Source,
		publisher:    cfg.Publisher,
		metrics:      cfg.Metrics,
		exec:         NewExecutor(logger),
		fetchTimeout: timeout,
		now:          now,
		logger:       logger,
	}
}

// RunSyncCycle fetches the remote batch, merges it into the store and persists the result.
//
// A periodic trigger that finds the store busy returns immediately with
// Skipped set. A manual trigger waits its turn. A failed fetch leaves the
// store untouched. A failed persist keeps the merged state in memory and is
// reported through PersistWarning.
func (s *SyncService) RunSyncCycle(ctx context.Context, trigger Trigger) SyncResult {
	return s.run(ctx, trigger, SyncModeMerge)
}

// ReplaceAllFromServer discards every local quote and installs the remote batch verbatim.
// It always waits for the writer slot.
func (s *SyncService) ReplaceAllFromServer(ctx context.Context) SyncResult {
	return s.run(ctx, TriggerManual, SyncModeReplaceAll)
}

// LastResult returns the most recent non-skipped result.
func (s *SyncService) LastResult() (SyncResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.last == nil {
		return SyncResult{}, false
	}

	return *s.last, true
}

// InFlight reports whether a cycle currently holds the store.
func (s *SyncService) InFlight() bool {
	return s.inFlight.Load()
}

func (s *SyncService) run(ctx context.Context, trigger Trigger, mode SyncMode) SyncResult {
	if _, ok := logging.Lookup(ctx); !ok {
		ctx = logging.WithContext(ctx, s.logger)
	}

	ctx = logging.WithSyncTrigger(ctx, string(trigger))
	logger := logging.FromContext(ctx)

	start := s.now()

	var result SyncResult

	cycle := func(ctx context.Context) error {
		s.inFlight.Store(true)
		defer s.inFlight.Store(false)

		result = s.cycle(ctx, mode)

		return nil
	}

	var err error
	if trigger == TriggerPeriodic && mode == SyncModeMerge {
		err = s.store.TryWrite(ctx, cycle)
	} else {
		err = s.store.Write(ctx, cycle)
	}

	switch {
	case errors.Is(err, ErrWriterBusy):
		logger.DebugContext(ctx, "sync skipped, another writer holds the store")

		result = SyncResult{Skipped: true, Message: MessageSkipped}
	case err != nil:
		logger.WarnContext(ctx, "sync aborted before start", slog.Any("error", err))

		result = SyncResult{Failed: true, Message: MessageFetchFailed, Error: err.Error()}
	}

	result.Trigger = trigger
	result.Mode = mode
	result.At = s.now()
	result.Duration = result.At.Sub(start)

	s.finish(ctx, result)

	return result
}

// cycle runs under the writer slot.
func (s *SyncService) cycle(ctx context.Context, mode SyncMode) SyncResult {
	var (
		outcome    domain.MergeOutcome
		persistErr error
	)

	op := Operation[SyncMode, []domain.Quote, []domain.Quote, SyncResult]{
		Name: "sync." + string(mode),
		Validate: func(_ context.Context, mode SyncMode) error {
			switch mode {
			case SyncModeMerge, SyncModeReplaceAll:
				return nil
			default:
				return domain.NewValidationError("mode", fmt.Sprintf("unknown sync mode %q", mode))
			}
		},
		Perform: func(ctx context.Context, _ SyncMode) ([]domain.Quote, error) {
			fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
			defer cancel()

			return s.source.FetchCandidates(fetchCtx)
		},
		Verify: func(_ context.Context, _ SyncMode, fetched []domain.Quote) ([]domain.Quote, error) {
			for i, q := range fetched {
				if err := q.Validate(); err != nil {
					return nil, domain.NewUnavailableError("quote-source", fmt.Sprintf("record %d: %v", i, err))
				}
			}

			return fetched, nil
		},
		Archive: func(ctx context.Context, mode SyncMode, fetched []domain.Quote) error {
			var merged []domain.Quote
			if mode == SyncModeReplaceAll {
				merged, outcome = domain.ReplaceAll(fetched)
			} else {
				merged, outcome = domain.Merge(s.store.All(), fetched)
			}

			if outcome.Kind == domain.OutcomeNoChange && mode == SyncModeMerge {
				return nil
			}

			s.store.ReplaceAll(merged)
			persistErr = s.store.Persist(ctx)

			return nil
		},
		Respond: func(_ context.Context, mode SyncMode, _ []domain.Quote) (SyncResult, error) {
			res := SyncResult{Outcome: outcome, Message: outcome.Message()}
			if mode == SyncModeReplaceAll {
				res.Message = MessageReplaced
			}

			if persistErr != nil {
				res.PersistWarning = persistErr.Error()
			}

			return res, nil
		},
	}

	result, err := Execute(ctx, s.exec, op, mode)
	if err != nil {
		step, _ := GetExecutionStep(err)

		return SyncResult{Failed: true, Message: MessageFetchFailed, Error: err.Error(), FailedStep: step}
	}

	return result
}

func (s *SyncService) finish(ctx context.Context, result SyncResult) {
	logger := logging.FromContext(ctx)

	attrs := []any{
		slog.String("mode", string(result.Mode)),
		slog.String("outcome", result.Outcome.Kind.String()),
		slog.Int("added", result.Outcome.Added),
		slog.Int("replaced", result.Outcome.Replaced),
		slog.Duration("duration", result.Duration),
	}

	switch {
	case result.Skipped:
	case result.Failed:
		logger.WarnContext(ctx, "sync failed", append(attrs,
			slog.String("step", string(result.FailedStep)),
			slog.String("error", result.Error),
		)...)
	case result.PersistWarning != "":
		logger.WarnContext(ctx, "sync merged but not persisted", append(attrs, slog.String("warning", result.PersistWarning))...)
	default:
		logger.InfoContext(ctx, "sync finished", attrs...)
	}

	if s.metrics != nil {
		s.metrics.RecordSync(ctx, result, s.store.Len())
	}

	if result.Skipped {
		return
	}

	s.mu.Lock()
	s.last = &result
	s.mu.Unlock()

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, SyncStatusEvent{Result: result}); err != nil {
			logger.WarnContext(ctx, "publishing sync status failed", slog.Any("error", err))
		}
	}
}
