//go:build integration

package integration

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jsamuelsen/quotekeeper/internal/adapters/clients"
	"github.com/jsamuelsen/quotekeeper/internal/adapters/clients/acl"
	"github.com/jsamuelsen/quotekeeper/internal/platform/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// postsServer imitates the remote posts API. Requests block while gate is
// closed and fail while status is set.
type postsServer struct {
	*httptest.Server

	mu        sync.Mutex
	titles    []string
	submitted []map[string]string

	status atomic.Int32
	gate   chan struct{}
	hits   atomic.Int32
}

func newPostsServer(t *testing.T, titles ...string) *postsServer {
	t.Helper()

	s := &postsServer{titles: titles}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)

	return s
}

func (s *postsServer) serve(w http.ResponseWriter, r *http.Request) {
	s.hits.Add(1)

	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	if code := s.status.Load(); code != 0 {
		w.WriteHeader(int(code))
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.mu.Lock()
		posts := make([]map[string]any, 0, len(s.titles))
		for i, title := range s.titles {
			posts = append(posts, map[string]any{"id": i + 1, "userId": 1, "title": title, "body": "ignored"})
		}
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(posts)
	case http.MethodPost:
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		s.submitted = append(s.submitted, body)
		s.mu.Unlock()

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":101}`))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *postsServer) setTitles(titles ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.titles = titles
}

// hold makes requests wait until the returned release func is called.
func (s *postsServer) hold() (release func()) {
	gate := make(chan struct{})

	s.mu.Lock()
	s.gate = gate
	s.mu.Unlock()

	var once sync.Once

	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.gate = nil
			s.mu.Unlock()
			close(gate)
		})
	}
}

func (s *postsServer) submissions() []map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]map[string]string(nil), s.submitted...)
}

func newSource(t *testing.T, baseURL string, maxFailures int) *acl.QuoteSource {
	t.Helper()

	client, err := clients.New(&clients.Config{
		BaseURL:     baseURL,
		ServiceName: "quote-source",
		Timeout:     5 * time.Second,
		Retry: config.RetryConfig{
			MaxAttempts:     1,
			InitialInterval: 10 * time.Millisecond,
			MaxInterval:     50 * time.Millisecond,
			Multiplier:      2.0,
		},
		Circuit: config.CircuitBreakerConfig{
			MaxFailures:   maxFailures,
			Timeout:       time.Minute,
			HalfOpenLimit: 1,
		},
		Logger: discardLogger(),
	})
	require.NoError(t, err)

	return acl.NewQuoteSource(acl.QuoteSourceConfig{Client: client, Logger: discardLogger()})
}
