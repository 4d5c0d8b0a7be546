// Package apierr classifies failures of calls to the portal API into a small
// set of categories the UI can act on.
package apierr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// Category groups failures by what the caller can do about them.
type Category string

const (
	Network     Category = "network"
	Auth        Category = "auth"
	Validation  Category = "validation"
	NotFound    Category = "notFound"
	ServerError Category = "serverError"
	RateLimit   Category = "rateLimit"
	Timeout     Category = "timeout"
	Unknown     Category = "unknown"
)

// maxBodyBytes bounds how much of an error body is read.
const maxBodyBytes = 4096

// Error is a classified API failure.
type Error struct {
	Category Category
	Status   int    // HTTP status, 0 when no response was received
	Message  string // server-provided message, never shown to users verbatim
	Err      error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("%s (status %d): %s", e.Category, e.Status, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("%s (status %d)", e.Category, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Category, e.Err)
	}
	return string(e.Category)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CategoryForStatus maps an HTTP status to a category.
func CategoryForStatus(status int) Category {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return Auth
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return Validation
	case status == http.StatusNotFound:
		return NotFound
	case status == http.StatusTooManyRequests:
		return RateLimit
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return Timeout
	case status >= 500:
		return ServerError
	}
	return Unknown
}

// FromResponse builds an Error from a non-2xx response. The body is read
// (bounded) but not closed.
func FromResponse(resp *http.Response) *Error {
	e := &Error{
		Category: CategoryForStatus(resp.StatusCode),
		Status:   resp.StatusCode,
	}
	if resp.Body == nil {
		return e
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		e.Message = payload.Error
		if e.Message == "" {
			e.Message = payload.Message
		}
	} else {
		e.Message = strings.TrimSpace(string(body))
	}
	return e
}

// FromTransport classifies an error returned before any response arrived.
func FromTransport(err error) *Error {
	var existing *Error
	if errors.As(err, &existing) {
		return existing
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Category: Timeout, Err: err}
	case errors.As(err, &netErr) && netErr.Timeout():
		return &Error{Category: Timeout, Err: err}
	case errors.Is(err, context.Canceled):
		return &Error{Category: Unknown, Err: err}
	}
	return &Error{Category: Network, Err: err}
}

// CategoryOf returns the category of err, Unknown for unclassified errors.
func CategoryOf(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return Unknown
}

// Is reports whether err carries the given category.
func Is(err error, category Category) bool {
	return err != nil && CategoryOf(err) == category
}

var userMessages = map[Category]string{
	Network:     "Unable to reach the server. Check your connection and try again.",
	Auth:        "Your credentials were not accepted. Please sign in again.",
	Validation:  "Some of the information you entered is not valid.",
	NotFound:    "The requested item could not be found.",
	ServerError: "The server ran into a problem. Please try again later.",
	RateLimit:   "Too many attempts. Please wait a moment and try again.",
	Timeout:     "The server took too long to respond. Please try again.",
	Unknown:     "Something went wrong. Please try again.",
}

// UserMessage returns a human-readable message for err derived only from
// its category.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	return userMessages[CategoryOf(err)]
}

// Reportable reports whether err should be sent to error tracking.
func Reportable(err error) bool {
	switch CategoryOf(err) {
	case ServerError, Unknown:
		return err != nil
	}
	return false
}

// Reporter forwards errors to an error-tracking collaborator.
type Reporter interface {
	Report(ctx context.Context, op string, err error)
}

// LogReporter reports errors through the application logger.
type LogReporter struct {
	Logger zerolog.Logger
}

func (r LogReporter) Report(ctx context.Context, op string, err error) {
	r.Logger.Error().
		Err(err).
		Str("op", op).
		Str("category", string(CategoryOf(err))).
		Msg("Reportable API failure")
}

// ReportIfNeeded hands err to r when it is reportable. A nil reporter is
// allowed.
func ReportIfNeeded(ctx context.Context, r Reporter, op string, err error) {
	if r == nil || !Reportable(err) {
		return
	}
	r.Report(ctx, op, err)
}
