package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jsamuelsen/quotekeeper/internal/domain"
	"github.com/jsamuelsen/quotekeeper/internal/ports"
)

type syncFixture struct {
	store     *QuoteStore
	source    *mockQuoteSource
	publisher *recordingPublisher
	metrics   *recordingMetrics
	svc       *SyncService
	kvSaves   func() int
	failSaves func(error)
}

func newSyncFixture(t *testing.T, local ...domain.Quote) *syncFixture {
	t.Helper()

	store, kv := newLoadedStore(t, local...)
	source := &mockQuoteSource{}
	publisher := &recordingPublisher{}
	metrics := &recordingMetrics{}

	clock := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	svc := NewSyncService(SyncServiceConfig{
		Store:        store,
		Source:       source,
		Publisher:    publisher,
		Metrics:      metrics,
		FetchTimeout: 50 * time.Millisecond,
		Now:          func() time.Time { return clock },
		Logger:       discardLogger(),
	})

	t.Cleanup(func() { source.AssertExpectations(t) })

	return &syncFixture{
		store:     store,
		source:    source,
		publisher: publisher,
		metrics:   metrics,
		svc:       svc,
		kvSaves:   kv.Saves,
		failSaves: kv.FailSaves,
	}
}

func TestNewSyncService_RequiresDependencies(t *testing.T) {
	store, _ := newLoadedStore(t)

	assert.Panics(t, func() { NewSyncService(SyncServiceConfig{Store: store}) })
	assert.Panics(t, func() { NewSyncService(SyncServiceConfig{Source: &mockQuoteSource{}}) })
}

func TestSyncService_RunSyncCycle(t *testing.T) {
	tests := []struct {
		name        string
		local       []domain.Quote
		remote      []domain.Quote
		wantStore   []domain.Quote
		wantOutcome domain.MergeOutcome
		wantMessage string
		wantSaves   int
	}{
		{
			name:        "conflict and addition",
			local:       []domain.Quote{quote("A", "x"), quote("B", "y")},
			remote:      []domain.Quote{quote("B", "z"), quote("C", "w")},
			wantStore:   []domain.Quote{quote("A", "x"), quote("B", "z"), quote("C", "w")},
			wantOutcome: domain.MergeOutcome{Kind: domain.OutcomeReplacedConflict, Added: 1, Replaced: 1},
			wantMessage: "Conflicts resolved. Server data is now up-to-date.",
			wantSaves:   1,
		},
		{
			name:        "additions only",
			local:       []domain.Quote{quote("A", "x")},
			remote:      []domain.Quote{quote("S", "Server")},
			wantStore:   []domain.Quote{quote("A", "x"), quote("S", "Server")},
			wantOutcome: domain.MergeOutcome{Kind: domain.OutcomeAdded, Added: 1},
			wantMessage: "New quotes have been fetched from the server.",
			wantSaves:   1,
		},
		{
			name:        "empty remote changes nothing",
			local:       []domain.Quote{quote("A", "x")},
			remote:      []domain.Quote{},
			wantStore:   []domain.Quote{quote("A", "x")},
			wantOutcome: domain.MergeOutcome{Kind: domain.OutcomeNoChange},
			wantMessage: "Quotes are up to date.",
			wantSaves:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSyncFixture(t, tt.local...)
			f.source.On("FetchCandidates", mock.Anything).Return(tt.remote, nil).Once()

			result := f.svc.RunSyncCycle(context.Background(), TriggerManual)

			assert.False(t, result.Failed)
			assert.False(t, result.Skipped)
			assert.Equal(t, TriggerManual, result.Trigger)
			assert.Equal(t, SyncModeMerge, result.Mode)
			assert.Equal(t, tt.wantOutcome, result.Outcome)
			assert.Equal(t, tt.wantMessage, result.Message)
			assert.Empty(t, result.PersistWarning)
			assert.Equal(t, tt.wantStore, f.store.All())
			assert.Equal(t, tt.wantSaves, f.kvSaves())
		})
	}
}

func TestSyncService_FetchFailureLeavesStoreUntouched(t *testing.T) {
	local := []domain.Quote{quote("A", "x"), quote("B", "y")}
	f := newSyncFixture(t, local...)
	f.source.On("FetchCandidates", mock.Anything).
		Return(nil, domain.NewUnavailableError("quote-source", "status 502")).Once()

	result := f.svc.RunSyncCycle(context.Background(), TriggerPeriodic)

	assert.True(t, result.Failed)
	assert.Equal(t, MessageFetchFailed, result.Message)
	assert.Contains(t, result.Error, "status 502")
	assert.Equal(t, StepPerform, result.FailedStep)
	assert.Equal(t, local, f.store.All())
	assert.Zero(t, f.kvSaves())

	last, ok := f.svc.LastResult()
	require.True(t, ok)
	assert.True(t, last.Failed)
}

func TestSyncService_InvalidRemoteRecordIsAFetchFailure(t *testing.T) {
	local := []domain.Quote{quote("A", "x")}
	f := newSyncFixture(t, local...)
	f.source.On("FetchCandidates", mock.Anything).
		Return([]domain.Quote{quote("S", "Server"), quote("", "Server")}, nil).Once()

	result := f.svc.RunSyncCycle(context.Background(), TriggerManual)

	assert.True(t, result.Failed)
	assert.Equal(t, local, f.store.All())

	step, ok := stepFromMessage(result.Error)
	assert.True(t, ok)
	assert.Equal(t, StepVerify, step)
}

func TestSyncService_FetchIsBoundedByTimeout(t *testing.T) {
	f := newSyncFixture(t, quote("A", "x"))
	f.source.On("FetchCandidates", mock.Anything).
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			<-ctx.Done()
		}).
		Return(nil, context.DeadlineExceeded).Once()

	start := time.Now()
	result := f.svc.RunSyncCycle(context.Background(), TriggerManual)

	assert.True(t, result.Failed)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, []domain.Quote{quote("A", "x")}, f.store.All())
}

func TestSyncService_PersistFailureKeepsMergedState(t *testing.T) {
	f := newSyncFixture(t, quote("A", "x"))
	f.failSaves(errors.New("quota exceeded"))
	f.source.On("FetchCandidates", mock.Anything).Return([]domain.Quote{quote("S", "Server")}, nil).Once()

	result := f.svc.RunSyncCycle(context.Background(), TriggerManual)

	assert.False(t, result.Failed)
	assert.Equal(t, domain.OutcomeAdded, result.Outcome.Kind)
	assert.Contains(t, result.PersistWarning, "quota exceeded")
	assert.Equal(t, []domain.Quote{quote("A", "x"), quote("S", "Server")}, f.store.All())
}

func TestSyncService_PeriodicTriggerIsDroppedWhileBusy(t *testing.T) {
	f := newSyncFixture(t, quote("A", "x"))

	entered := make(chan struct{})
	release := make(chan struct{})

	f.source.On("FetchCandidates", mock.Anything).
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).
		Return([]domain.Quote{quote("S", "Server")}, nil).Once()

	f.svc.fetchTimeout = 5 * time.Second

	manual := make(chan SyncResult)
	go func() { manual <- f.svc.RunSyncCycle(context.Background(), TriggerManual) }()

	<-entered
	assert.True(t, f.svc.InFlight())

	skipped := f.svc.RunSyncCycle(context.Background(), TriggerPeriodic)
	assert.True(t, skipped.Skipped)
	assert.Equal(t, MessageSkipped, skipped.Message)

	close(release)

	first := <-manual
	assert.Equal(t, domain.OutcomeAdded, first.Outcome.Kind)
	assert.False(t, f.svc.InFlight())

	// Only the completed cycle is announced.
	events := f.publisher.Events()
	require.Len(t, events, 1)
	assert.Equal(t, SyncStatusEventType, events[0].EventType())
	assert.Equal(t, first, events[0].Payload())

	last, ok := f.svc.LastResult()
	require.True(t, ok)
	assert.False(t, last.Skipped)

	assert.Len(t, f.metrics.results, 2)
}

func TestSyncService_ManualTriggerQueuesBehindWriter(t *testing.T) {
	f := newSyncFixture(t, quote("A", "x"))
	f.source.On("FetchCandidates", mock.Anything).Return([]domain.Quote{quote("S", "Server")}, nil).Once()

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)

		_ = f.store.Write(context.Background(), func(context.Context) error {
			close(entered)
			<-release
			f.store.Add(quote("M", "Manual"))

			return nil
		})
	}()

	<-entered

	result := make(chan SyncResult)
	go func() { result <- f.svc.RunSyncCycle(context.Background(), TriggerManual) }()

	close(release)
	<-done

	got := <-result
	assert.Equal(t, domain.OutcomeAdded, got.Outcome.Kind)
	assert.Equal(t, []domain.Quote{quote("A", "x"), quote("M", "Manual"), quote("S", "Server")}, f.store.All())
}

func TestSyncService_ReplaceAllFromServer(t *testing.T) {
	f := newSyncFixture(t, quote("A", "x"), quote("Local only", "Mine"))
	f.source.On("FetchCandidates", mock.Anything).
		Return([]domain.Quote{quote("S1", "Server"), quote("A", "Server")}, nil).Once()

	result := f.svc.ReplaceAllFromServer(context.Background())

	assert.False(t, result.Failed)
	assert.Equal(t, SyncModeReplaceAll, result.Mode)
	assert.Equal(t, MessageReplaced, result.Message)
	assert.Equal(t, 2, result.Outcome.Added)
	assert.Zero(t, result.Outcome.Replaced)
	assert.Equal(t, []domain.Quote{quote("S1", "Server"), quote("A", "Server")}, f.store.All())
	assert.Equal(t, 1, f.kvSaves())
}

func TestSyncService_ReplaceAllFetchFailureKeepsLocal(t *testing.T) {
	local := []domain.Quote{quote("A", "x")}
	f := newSyncFixture(t, local...)
	f.source.On("FetchCandidates", mock.Anything).Return(nil, domain.ErrUnavailable).Once()

	result := f.svc.ReplaceAllFromServer(context.Background())

	assert.True(t, result.Failed)
	assert.Equal(t, local, f.store.All())
}

func TestSyncService_ReplaceAllWithEmptyBatchClearsStore(t *testing.T) {
	f := newSyncFixture(t, quote("A", "x"), quote("B", "y"))
	f.source.On("FetchCandidates", mock.Anything).Return([]domain.Quote{}, nil).Once()

	result := f.svc.ReplaceAllFromServer(context.Background())

	assert.False(t, result.Failed)
	assert.Equal(t, MessageReplaced, result.Message)
	assert.Equal(t, domain.MergeOutcome{Kind: domain.OutcomeNoChange}, result.Outcome)
	assert.Empty(t, f.store.All())
	assert.Equal(t, 1, f.kvSaves())
}

func TestSyncService_MalformedPayloadLeavesStoreUntouched(t *testing.T) {
	modes := []struct {
		name string
		run  func(*SyncService) SyncResult
	}{
		{"merge", func(s *SyncService) SyncResult { return s.RunSyncCycle(context.Background(), TriggerManual) }},
		{"replace all", func(s *SyncService) SyncResult { return s.ReplaceAllFromServer(context.Background()) }},
	}

	for _, mode := range modes {
		t.Run(mode.name, func(t *testing.T) {
			local := []domain.Quote{quote("A", "x")}
			f := newSyncFixture(t, local...)
			f.source.On("FetchCandidates", mock.Anything).
				Return(nil, domain.NewUnavailableError("quote-source", "payload is not a JSON array")).Once()

			result := mode.run(f.svc)

			assert.True(t, result.Failed)
			assert.Equal(t, MessageFetchFailed, result.Message)
			assert.Contains(t, result.Error, "payload is not a JSON array")
			assert.Equal(t, StepPerform, result.FailedStep)
			assert.Equal(t, local, f.store.All())
			assert.Zero(t, f.kvSaves())
		})
	}
}

func TestSyncService_UnknownModeStopsBeforeFetch(t *testing.T) {
	local := []domain.Quote{quote("A", "x")}
	f := newSyncFixture(t, local...)

	result := f.svc.cycle(context.Background(), SyncMode("rebase"))

	assert.True(t, result.Failed)
	assert.Equal(t, StepValidate, result.FailedStep)
	assert.Contains(t, result.Error, `unknown sync mode "rebase"`)
	f.source.AssertNotCalled(t, "FetchCandidates", mock.Anything)
	assert.Equal(t, local, f.store.All())
}

func TestSyncService_ResultIsStampedByClock(t *testing.T) {
	f := newSyncFixture(t)
	f.source.On("FetchCandidates", mock.Anything).Return([]domain.Quote{}, nil).Once()

	result := f.svc.RunSyncCycle(context.Background(), TriggerPeriodic)

	assert.Equal(t, time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC), result.At)
	assert.Zero(t, result.Duration)
}

func TestSyncStatusEvent(t *testing.T) {
	var e ports.Event = SyncStatusEvent{Result: SyncResult{Message: "ok"}}

	assert.Equal(t, "sync.status", e.EventType())
	assert.Equal(t, SyncResult{Message: "ok"}, e.Payload())
}

// stepFromMessage recovers the failing step from a flattened result error.
func stepFromMessage(msg string) (ExecutionStep, bool) {
	for _, step := range []ExecutionStep{StepValidate, StepPerform, StepVerify, StepArchive} {
		if len(msg) >= len(step) && msg[:len(step)] == string(step) {
			return step, true
		}
	}

	return "", false
}
