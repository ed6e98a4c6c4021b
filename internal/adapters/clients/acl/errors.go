package acl

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/jsamuelsen/quotekeeper/internal/adapters/clients"
	"github.com/jsamuelsen/quotekeeper/internal/domain"
)

// maxErrorBody caps how much of an error body is read.
const maxErrorBody = 64 << 10

// remoteError is what the service says about a rejected call. Bodies may use
// {"message":...}, {"error":"..."} or {"error":{"message":...,"details":{...}}}.
type remoteError struct {
	Message string
	Fields  map[string]string
}

func (r *remoteError) UnmarshalJSON(data []byte) error {
	var outer struct {
		Message string            `json:"message"`
		Details map[string]string `json:"details"`
		Error   json.RawMessage   `json:"error"`
	}
	if err := json.Unmarshal(data, &outer); err != nil {
		return err
	}

	r.Message, r.Fields = outer.Message, outer.Details

	if len(outer.Error) == 0 {
		return nil
	}

	var text string
	if json.Unmarshal(outer.Error, &text) == nil {
		r.Message = text
		return nil
	}

	var inner struct {
		Message string            `json:"message"`
		Details map[string]string `json:"details"`
	}
	if err := json.Unmarshal(outer.Error, &inner); err != nil {
		return err
	}

	if inner.Message != "" {
		r.Message = inner.Message
	}

	if len(inner.Details) > 0 {
		r.Fields = inner.Details
	}

	return nil
}

// readRemoteError decodes an error body. It returns nil when the body is
// empty, not JSON, or says nothing useful.
func readRemoteError(body io.Reader) *remoteError {
	if body == nil {
		return nil
	}

	var re remoteError
	if err := json.NewDecoder(io.LimitReader(body, maxErrorBody)).Decode(&re); err != nil {
		return nil
	}

	if re.Message == "" && len(re.Fields) == 0 {
		return nil
	}

	return &re
}

// firstField returns the alphabetically first field violation.
func (r *remoteError) firstField() (field, msg string, ok bool) {
	if len(r.Fields) == 0 {
		return "", "", false
	}

	keys := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys[0], r.Fields[keys[0]], true
}

// statusFailure turns a non-2xx response into a domain error. A rejected
// payload becomes a validation error and a duplicate a conflict. Everything
// else, 404 and auth failures included, leaves the source unavailable.
func statusFailure(service, operation string, status int, body io.Reader) error {
	message := fmt.Sprintf("%s returned status %d", operation, status)

	re := readRemoteError(body)
	if re != nil && re.Message != "" {
		message = re.Message
	}

	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		if re != nil {
			if field, msg, ok := re.firstField(); ok {
				return domain.NewValidationError(field, msg)
			}
		}

		return domain.NewValidationError("", message)
	case http.StatusConflict:
		return domain.NewConflictError(service, message)
	case http.StatusTooManyRequests:
		return domain.NewUnavailableError(service, "rate limit exceeded")
	default:
		return domain.NewUnavailableError(service, message)
	}
}

// transportFailure turns a client error into an unavailable error.
func transportFailure(service, operation string, err error) error {
	switch {
	case errors.Is(err, clients.ErrCircuitOpen):
		return domain.NewUnavailableError(service, "circuit breaker open during "+operation)
	case errors.Is(err, clients.ErrMaxRetriesExceeded):
		return domain.NewUnavailableError(service, fmt.Sprintf("%s: %v", operation, err))
	default:
		return domain.NewUnavailableError(service, fmt.Sprintf("%s failed: %v", operation, err))
	}
}
