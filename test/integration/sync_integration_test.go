//go:build integration

package integration

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsamuelsen/quotekeeper/internal/adapters/metrics"
	"github.com/jsamuelsen/quotekeeper/internal/adapters/storage/sqlstore"
	"github.com/jsamuelsen/quotekeeper/internal/app"
	"github.com/jsamuelsen/quotekeeper/internal/domain"
	"github.com/jsamuelsen/quotekeeper/internal/ports"
)

// openStore opens the sqlite file at path and loads the record store from it.
func openStore(t *testing.T, path string) (*app.QuoteStore, *sqlstore.Store) {
	t.Helper()

	db, err := sqlstore.Open(path, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := app.NewQuoteStore(db, discardLogger())
	require.NoError(t, store.Load(context.Background()))

	return store, db
}

func newSyncService(store *app.QuoteStore, source ports.QuoteSource, m app.SyncMetrics) *app.SyncService {
	return app.NewSyncService(app.SyncServiceConfig{
		Store:        store,
		Source:       source,
		Metrics:      m,
		FetchTimeout: 5 * time.Second,
		Logger:       discardLogger(),
	})
}

func TestSync_MergePersistsAcrossRestart(t *testing.T) {
	defaults := domain.DefaultQuotes()
	srv := newPostsServer(t, "Remote news", "  "+defaults[1].Text+"  ")
	path := filepath.Join(t.TempDir(), "quotes.db")

	store, db := openStore(t, path)
	res := newSyncService(store, newSource(t, srv.URL, 5), nil).RunSyncCycle(context.Background(), app.TriggerManual)

	require.False(t, res.Failed, res.Error)
	assert.Equal(t, domain.OutcomeReplacedConflict, res.Outcome.Kind)
	assert.Equal(t, 1, res.Outcome.Added)
	assert.Equal(t, 1, res.Outcome.Replaced)
	assert.Empty(t, res.PersistWarning)

	want := []domain.Quote{
		defaults[0],
		{Text: defaults[1].Text, Category: "Server"},
		defaults[2],
		{Text: "Remote news", Category: "Server"},
	}
	assert.Equal(t, want, store.All())

	require.NoError(t, db.Close())

	reopened, _ := openStore(t, path)
	assert.Equal(t, want, reopened.All())
}

func TestSync_FetchFailureLeavesStoreAndDisk(t *testing.T) {
	srv := newPostsServer(t, "Remote news")
	srv.status.Store(http.StatusInternalServerError)
	path := filepath.Join(t.TempDir(), "quotes.db")

	store, _ := openStore(t, path)
	res := newSyncService(store, newSource(t, srv.URL, 5), nil).RunSyncCycle(context.Background(), app.TriggerPeriodic)

	assert.True(t, res.Failed)
	assert.Equal(t, app.MessageFetchFailed, res.Message)
	assert.Equal(t, domain.DefaultQuotes(), store.All())
}

func TestSync_NonArrayPayloadLeavesStoreAndDisk(t *testing.T) {
	bodies := map[string]string{
		"null":          `null`,
		"object":        `{"posts":[]}`,
		"trailing data": `[{"id":1,"title":"Remote news"}] garbage`,
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = fmt.Fprint(w, body)
			}))
			t.Cleanup(srv.Close)

			path := filepath.Join(t.TempDir(), "quotes.db")
			store, db := openStore(t, path)
			svc := newSyncService(store, newSource(t, srv.URL, 5), nil)

			merged := svc.RunSyncCycle(context.Background(), app.TriggerManual)
			assert.True(t, merged.Failed)

			replaced := svc.ReplaceAllFromServer(context.Background())
			assert.True(t, replaced.Failed)
			assert.Equal(t, app.MessageFetchFailed, replaced.Message)

			assert.Equal(t, domain.DefaultQuotes(), store.All())

			require.NoError(t, db.Close())

			reopened, _ := openStore(t, path)
			assert.Equal(t, domain.DefaultQuotes(), reopened.All())
		})
	}
}

func TestSync_ReplaceAllDiscardsLocal(t *testing.T) {
	srv := newPostsServer(t, "Only this")
	path := filepath.Join(t.TempDir(), "quotes.db")

	store, db := openStore(t, path)
	res := newSyncService(store, newSource(t, srv.URL, 5), nil).ReplaceAllFromServer(context.Background())

	require.False(t, res.Failed, res.Error)
	assert.Equal(t, app.SyncModeReplaceAll, res.Mode)

	require.NoError(t, db.Close())

	reopened, _ := openStore(t, path)
	assert.Equal(t, []domain.Quote{{Text: "Only this", Category: "Server"}}, reopened.All())
}

func TestSync_SingleWriterAcrossTriggers(t *testing.T) {
	srv := newPostsServer(t, "Remote news")
	path := filepath.Join(t.TempDir(), "quotes.db")

	reg := prometheus.NewRegistry()
	m, err := metrics.NewSyncMetrics(reg)
	require.NoError(t, err)

	store, _ := openStore(t, path)
	svc := newSyncService(store, newSource(t, srv.URL, 5), m)

	release := srv.hold()
	defer release()

	var (
		wg      sync.WaitGroup
		results = make([]app.SyncResult, 2)
	)

	wg.Add(1)

	go func() {
		defer wg.Done()
		results[0] = svc.RunSyncCycle(context.Background(), app.TriggerManual)
	}()

	require.Eventually(t, svc.InFlight, 2*time.Second, 5*time.Millisecond)

	// A periodic tick while a cycle is running is dropped.
	skipped := svc.RunSyncCycle(context.Background(), app.TriggerPeriodic)
	assert.True(t, skipped.Skipped)
	assert.Equal(t, app.MessageSkipped, skipped.Message)

	// A second manual trigger waits its turn.
	wg.Add(1)

	go func() {
		defer wg.Done()
		results[1] = svc.RunSyncCycle(context.Background(), app.TriggerManual)
	}()

	release()
	wg.Wait()

	for _, res := range results {
		assert.False(t, res.Skipped)
		assert.False(t, res.Failed, res.Error)
	}

	kinds := []domain.OutcomeKind{results[0].Outcome.Kind, results[1].Outcome.Kind}
	assert.ElementsMatch(t, []domain.OutcomeKind{domain.OutcomeAdded, domain.OutcomeReplacedConflict}, kinds)
	assert.Len(t, store.All(), len(domain.DefaultQuotes())+1)

	assert.Equal(t, 3, testutil.CollectAndCount(reg, "quotekeeper_sync_cycles_total"))
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(fmt.Sprintf(`
# HELP quotekeeper_store_records Quotes currently held in memory.
# TYPE quotekeeper_store_records gauge
quotekeeper_store_records %d
`, len(domain.DefaultQuotes())+1)), "quotekeeper_store_records"))
}
