package dto

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"github.com/jsamuelsen/quotekeeper/internal/domain"
	"github.com/jsamuelsen/quotekeeper/internal/platform/logging"
)

// MapDomainError maps a domain error to an HTTP status and error response.
// Unknown errors become a 500 with a generic message.
func MapDomainError(err error) (int, *ErrorResponse) {
	switch {
	case err == nil:
		return http.StatusOK, nil

	case domain.IsMalformedImport(err):
		resp := NewErrorResponse(ErrorCodeMalformedImport, err.Error())

		var mi *domain.MalformedImportError
		if errors.As(err, &mi) && mi.Index >= 0 {
			resp.WithDetails(map[string]string{"index": strconv.Itoa(mi.Index)})
		}

		return http.StatusUnprocessableEntity, resp

	case domain.IsNotFound(err):
		return http.StatusNotFound, NewErrorResponse(ErrorCodeNotFound, err.Error())

	case domain.IsConflict(err):
		return http.StatusConflict, NewErrorResponse(ErrorCodeConflict, err.Error())

	case domain.IsValidation(err):
		resp := NewErrorResponse(ErrorCodeValidation, err.Error())

		var ve *domain.ValidationError
		if errors.As(err, &ve) && ve.Field != "" {
			resp.WithDetails(map[string]string{ve.Field: ve.Message})
		}

		return http.StatusBadRequest, resp

	case domain.IsUnavailable(err):
		return http.StatusServiceUnavailable, NewErrorResponse(ErrorCodeUnavailable, err.Error())

	case domain.IsPersistence(err):
		return http.StatusInternalServerError, NewErrorResponse(ErrorCodePersistence, err.Error())

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, NewErrorResponse(ErrorCodeTimeout, "request timed out")

	default:
		return http.StatusInternalServerError, NewErrorResponse(ErrorCodeInternal, "an internal error occurred")
	}
}

// GetTraceID returns the trace id of the request span, or "".
func GetTraceID(c *gin.Context) string {
	if span := trace.SpanFromContext(c.Request.Context()); span.SpanContext().HasTraceID() {
		return span.SpanContext().TraceID().String()
	}

	return ""
}

// HandleError writes the error response for err. Server-side failures are logged.
func HandleError(c *gin.Context, err error) {
	status, resp := MapDomainError(err)
	resp.TraceID = GetTraceID(c)

	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		logging.FromContext(c.Request.Context()).ErrorContext(c.Request.Context(), "request failed",
			slog.Any("error", err),
			slog.String("trace_id", resp.TraceID),
		)
	}

	c.JSON(status, resp)
}

// HandleErrorCode writes an error response for an adapter-level failure.
func HandleErrorCode(c *gin.Context, code, message string) {
	c.JSON(StatusFor(code), NewErrorResponse(code, message).WithTraceID(GetTraceID(c)))
}

// HandleBindError writes a 400 for a request that failed binding or validation.
func HandleBindError(c *gin.Context, err error) {
	if IsValidationError(err) {
		c.JSON(http.StatusBadRequest, NewErrorResponse(ErrorCodeValidation, "request validation failed").
			WithDetails(FieldErrors(err)).
			WithTraceID(GetTraceID(c)))

		return
	}

	HandleErrorCode(c, ErrorCodeBadRequest, err.Error())
}

// AbortWithErrorCode aborts the handler chain with an error response.
func AbortWithErrorCode(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, NewErrorResponse(code, message).WithTraceID(GetTraceID(c)))
}
