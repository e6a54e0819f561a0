package shopify

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	pkgerrors "github.com/flable/flable-backend/pkg/errors"
)

// statusError carries an upstream response that was not 2xx.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("shopify responded %d: %s", e.Status, e.Body)
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

func domainCodeForStatus(status int) pkgerrors.Code {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return pkgerrors.CodeAuth
	case retryableStatus(status):
		return pkgerrors.CodeTransientUpstream
	case status == http.StatusNotFound:
		return pkgerrors.CodeNotFound
	default:
		return pkgerrors.CodeDependency
	}
}

const maxErrorBody = 512

func mapStatusError(status int, body, op string) error {
	cause := &statusError{Status: status, Body: pkgerrors.Truncate(body, maxErrorBody)}
	return pkgerrors.Wrap(domainCodeForStatus(status), cause, fmt.Sprintf("shopify %s failed", op)).
		WithDetails(map[string]any{"status": status})
}

// mapContextError converts deadline and cancellation into typed errors.
func mapContextError(err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return pkgerrors.Wrap(pkgerrors.CodeTimeout, err, fmt.Sprintf("shopify %s timed out", op))
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, fmt.Sprintf("shopify %s cancelled", op))
}
