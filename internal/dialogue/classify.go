package dialogue

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/marindock/shipmate/internal/engine"
)

// Kind classifies a collaborator failure.
type Kind int

const (
	// Failed covers everything without a more specific classification.
	Failed Kind = iota
	// RateLimited means the backend answered 429.
	RateLimited
	// Unavailable means the backend could not be reached at all.
	Unavailable
)

// Failure is the classified form of a collaborator error. RetryAfter is in
// seconds, 0 when the backend gave no hint. Detail is a concise kind name
// safe to show to the user.
type Failure struct {
	Kind       Kind
	RetryAfter int
	Detail     string
}

// Classify maps a collaborator error onto the failure taxonomy. It is the
// single place errors are inspected; callers turn the result into labeled
// outcomes.
func Classify(err error) Failure {
	if err == nil {
		return Failure{}
	}

	var coded interface{ HTTPStatus() int }
	if errors.As(err, &coded) && coded.HTTPStatus() == http.StatusTooManyRequests {
		f := Failure{Kind: RateLimited, Detail: "RateLimited"}
		var hinted interface{ RetryDelay() time.Duration }
		if errors.As(err, &hinted) {
			f.RetryAfter = int(hinted.RetryDelay() / time.Second)
		}
		return f
	}

	if isUnavailable(err) {
		return Failure{Kind: Unavailable, Detail: "BackendUnavailable"}
	}

	return Failure{Kind: Failed, Detail: failureDetail(err)}
}

// RetryHint renders the user-facing retry suggestion for a rate limit.
func (f Failure) RetryHint() string {
	if f.RetryAfter > 0 {
		return fmt.Sprintf(" Please try again in about %d seconds.", f.RetryAfter)
	}
	return " Please try again later."
}

func isUnavailable(err error) bool {
	if errors.Is(err, engine.ErrNoEngine) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr *net.OpError
	return errors.As(err, &netErr)
}

// failureDetail names the failure class for user-facing messages without
// leaking raw error text.
func failureDetail(err error) string {
	var coded interface{ HTTPStatus() int }
	switch {
	case errors.As(err, &coded):
		return fmt.Sprintf("HTTP %d", coded.HTTPStatus())
	case errors.Is(err, context.DeadlineExceeded):
		return "Timeout"
	case errors.Is(err, context.Canceled):
		return "Canceled"
	case strings.Contains(strings.ToLower(err.Error()), "api key"):
		return "AuthFailed"
	default:
		return "RequestFailed"
	}
}
