package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mikestefanello/backlite"

	"github.com/jsamuelsen/quotekeeper/internal/domain"
	"github.com/jsamuelsen/quotekeeper/internal/ports"
)

// SubmitQuoteQueue is the backlite queue name for upstream submits.
const SubmitQuoteQueue = "submit_quote"

// SubmitQuoteTask publishes one locally added quote to the remote source.
type SubmitQuoteTask struct {
	Text     string `json:"text"`
	Category string `json:"category"`
}

// Config returns the queue configuration for submit tasks.
func (t SubmitQuoteTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        SubmitQuoteQueue,
		MaxAttempts: 5,
		Backoff:     30 * time.Second,
		Timeout:     30 * time.Second,
		Retention: &backlite.Retention{
			Duration:   24 * time.Hour,
			OnlyFailed: true,
			Data:       &backlite.RetainData{OnlyFailed: true},
		},
	}
}

// SubmitQuoteProcessor sends each task to source. A quote the source rejects
// as invalid or duplicate is dropped; other failures are retried.
func SubmitQuoteProcessor(source ports.QuoteSource, logger *slog.Logger) backlite.QueueProcessor[SubmitQuoteTask] {
	return func(ctx context.Context, task SubmitQuoteTask) error {
		q := domain.Quote{Text: task.Text, Category: task.Category}

		err := source.Submit(ctx, q)

		switch {
		case err == nil:
		case domain.IsValidation(err), domain.IsConflict(err):
			logger.WarnContext(ctx, "quote rejected upstream, dropping",
				slog.String("category", q.Category),
				slog.Any("error", err),
			)

			return nil
		default:
			return fmt.Errorf("submit quote: %w", err)
		}

		logger.DebugContext(ctx, "quote published upstream", slog.String("category", q.Category))

		return nil
	}
}

// Submitter implements ports.SubmitQueue on a task client.
type Submitter struct {
	client *Client
}

// NewSubmitter registers the submit queue on client. Call it before client.Start.
func NewSubmitter(client *Client, source ports.QuoteSource) *Submitter {
	client.Register(backlite.NewQueue(SubmitQuoteProcessor(source, client.logger)))

	return &Submitter{client: client}
}

// EnqueueSubmit stores a submit task. It returns once the task is durable.
func (s *Submitter) EnqueueSubmit(ctx context.Context, q domain.Quote) error {
	if err := q.Validate(); err != nil {
		return err
	}

	if _, err := s.client.Add(SubmitQuoteTask{Text: q.Text, Category: q.Category}).Ctx(ctx).Save(); err != nil {
		return fmt.Errorf("enqueue submit: %w", err)
	}

	return nil
}
