package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jsamuelsen/quotekeeper/internal/platform/logging"
)

// Mutating use cases run as a fixed pipeline:
//
//	VALIDATE -> PERFORM -> VERIFY -> ARCHIVE -> RESPOND
//
// Nothing is written before VERIFY has accepted what PERFORM produced, so a
// failed fetch or a rejected payload leaves the store exactly as it was.

const tracerName = "github.com/jsamuelsen/quotekeeper/app"

// ExecutionStep names a pipeline stage.
type ExecutionStep string

const (
	StepValidate ExecutionStep = "validate"
	StepPerform  ExecutionStep = "perform"
	StepVerify   ExecutionStep = "verify"
	StepArchive  ExecutionStep = "archive"
	StepRespond  ExecutionStep = "respond"
)

// ExecutionError records the stage at which an operation stopped.
type ExecutionError struct {
	Step    ExecutionStep
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s failed: %s: %v", e.Step, e.Message, e.Cause)
	}

	return fmt.Sprintf("%s failed: %s", e.Step, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

func stepError(step ExecutionStep, message string, cause error) error {
	return &ExecutionError{Step: step, Message: message, Cause: cause}
}

// Executor runs operations through the pipeline with logging and tracing.
type Executor struct {
	logger *slog.Logger
	tracer trace.Tracer
}

// NewExecutor creates an executor. A nil logger falls back to slog.Default.
func NewExecutor(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}

	return &Executor{
		logger: logger,
		tracer: otel.Tracer(tracerName),
	}
}

// Operation supplies the stage functions. Any stage may be nil and is then skipped.
//
// I is the input, P what PERFORM produced, V the verified value handed to
// ARCHIVE and RESPOND, and O the caller's result.
type Operation[I, P, V, O any] struct {
	Name string

	Validate func(ctx context.Context, input I) error
	Perform  func(ctx context.Context, input I) (P, error)
	Verify   func(ctx context.Context, input I, performed P) (V, error)
	Archive  func(ctx context.Context, input I, verified V) error
	Respond  func(ctx context.Context, input I, verified V) (O, error)
}

type stage struct {
	step    ExecutionStep
	message string
	level   slog.Level
}

var (
	validateStage = stage{StepValidate, "input validation failed", slog.LevelWarn}
	performStage  = stage{StepPerform, "operation failed", slog.LevelError}
	verifyStage   = stage{StepVerify, "verification failed", slog.LevelError}
	archiveStage  = stage{StepArchive, "state persistence failed", slog.LevelError}
)

// Execute runs op against input. It returns the first stage error wrapped
// in an *ExecutionError, except RESPOND errors which are returned as is.
func Execute[I, P, V, O any](ctx context.Context, exec *Executor, op Operation[I, P, V, O], input I) (O, error) {
	var zero O

	logger, ok := logging.Lookup(ctx)
	if !ok {
		logger = exec.logger
	}

	logger = logger.With(slog.String("operation", op.Name))

	ctx, span := exec.tracer.Start(ctx, op.Name)
	defer span.End()

	start := time.Now()

	fail := func(s stage, err error) error {
		logger.Log(ctx, s.level, string(s.step)+" failed", slog.Any("error", err))
		span.SetStatus(codes.Error, string(s.step))
		span.RecordError(err)

		return stepError(s.step, s.message, err)
	}

	mark := func(step ExecutionStep) {
		span.AddEvent(string(step), trace.WithAttributes(attribute.String("operation", op.Name)))
	}

	if op.Validate != nil {
		mark(StepValidate)

		if err := op.Validate(ctx, input); err != nil {
			return zero, fail(validateStage, err)
		}
	}

	var performed P

	if op.Perform != nil {
		mark(StepPerform)

		var err error
		if performed, err = op.Perform(ctx, input); err != nil {
			return zero, fail(performStage, err)
		}
	}

	var verified V

	if op.Verify != nil {
		mark(StepVerify)

		var err error
		if verified, err = op.Verify(ctx, input, performed); err != nil {
			return zero, fail(verifyStage, err)
		}
	}

	if op.Archive != nil {
		mark(StepArchive)

		if err := op.Archive(ctx, input, verified); err != nil {
			return zero, fail(archiveStage, err)
		}
	}

	result := zero

	if op.Respond != nil {
		mark(StepRespond)

		var err error
		if result, err = op.Respond(ctx, input, verified); err != nil {
			logger.WarnContext(ctx, "respond failed", slog.Any("error", err))

			return zero, err
		}
	}

	logger.DebugContext(ctx, "operation completed", slog.Duration("duration", time.Since(start)))

	return result, nil
}

// GetExecutionStep extracts the step from an execution error.
func GetExecutionStep(err error) (ExecutionStep, bool) {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Step, true
	}

	return "", false
}
