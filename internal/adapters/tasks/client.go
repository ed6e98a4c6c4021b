// Package tasks runs background work on a durable backlite queue backed by
// its own SQLite database.
package tasks

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
	"github.com/mikestefanello/backlite"

	"github.com/jsamuelsen/quotekeeper/internal/platform/config"
)

// Client wraps backlite and owns the task database.
type Client struct {
	client *backlite.Client
	db     *sql.DB
	cfg    config.TasksConfig
	logger *slog.Logger

	mu      sync.RWMutex
	started bool
}

// NewClient opens (or creates) the task database at cfg.DBPath and installs
// the backlite schema.
func NewClient(cfg config.TasksConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger = logger.With(slog.String("component", "tasks"))

	if cfg.Workers <= 0 {
		cfg.Workers = config.DefaultTaskWorkers
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating tasks directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal=WAL&_timeout=5000&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening tasks database: %w", err)
	}

	db.SetMaxOpenConns(cfg.Workers + 2)
	db.SetMaxIdleConns(cfg.Workers + 1)
	db.SetConnMaxLifetime(time.Hour)

	client, err := backlite.NewClient(backlite.ClientConfig{
		DB:              db,
		NumWorkers:      cfg.Workers,
		ReleaseAfter:    cfg.ReleaseAfter,
		CleanupInterval: cfg.CleanupInterval,
		Logger:          slogAdapter{logger: logger},
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating backlite client: %w", err)
	}

	if err := client.Install(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("installing backlite schema: %w", err)
	}

	return &Client{client: client, db: db, cfg: cfg, logger: logger}, nil
}

// Register adds queues. It must be called before Start.
func (c *Client) Register(queues ...backlite.Queue) {
	for _, q := range queues {
		c.client.Register(q)
	}
}

// Start begins dispatching tasks to the workers until Stop is called or ctx ends.
// Calling Start twice is a no-op.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "task queue started", slog.Int("workers", c.cfg.Workers))
	c.client.Start(ctx)
}

// Stop waits for running tasks to finish. It reports false when ctx expired first.
func (c *Client) Stop(ctx context.Context) bool {
	c.mu.RLock()
	started := c.started
	c.mu.RUnlock()

	if !started {
		return true
	}

	ok := c.client.Stop(ctx)
	if ok {
		c.logger.InfoContext(ctx, "task queue stopped")
	} else {
		c.logger.WarnContext(ctx, "task queue stopped before all tasks finished")
	}

	return ok
}

// Close releases the database. Call it after Stop.
func (c *Client) Close() error {
	return c.db.Close()
}

// Add starts an enqueue operation for one or more tasks.
func (c *Client) Add(tasks ...backlite.Task) *backlite.TaskAddOp {
	return c.client.Add(tasks...)
}

// Name implements ports.HealthChecker.
func (c *Client) Name() string {
	return "task-queue"
}

// Check pings the task database.
func (c *Client) Check(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// slogAdapter satisfies backlite.Logger. backlite passes key/value pairs as params.
type slogAdapter struct {
	logger *slog.Logger
}

func (l slogAdapter) Info(message string, params ...any) {
	l.logger.Debug(message, params...)
}

func (l slogAdapter) Error(message string, params ...any) {
	l.logger.Error(message, params...)
}
