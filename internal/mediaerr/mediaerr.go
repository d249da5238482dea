// Package mediaerr holds the error taxonomy shared by the streaming, thumbnail
// and tier migration packages. Callers wrap these sentinels with %w and
// classify with errors.Is.
package mediaerr

import (
	"errors"

	"github.com/valyala/fasthttp"
)

var (
	ErrPathTraversal        = errors.New("path traversal rejected")
	ErrNotFound             = errors.New("resource not found")
	ErrNotAFile             = errors.New("not a regular file")
	ErrRangeUnsatisfiable   = errors.New("range not satisfiable")
	ErrSourceUnavailable    = errors.New("source unavailable")
	ErrSourceCorrupt        = errors.New("source corrupt")
	ErrVerificationMismatch = errors.New("verification mismatch")
	ErrConcurrentMigration  = errors.New("concurrent migration in progress")

	ErrQueueFull    = errors.New("thumbnail queue full")
	ErrTierMismatch = errors.New("asset is not on the expected tier")
	ErrUnknownTier  = errors.New("unknown storage tier")
)

// Transient reports whether err is worth retrying automatically.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSourceCorrupt) {
		return false
	}
	return errors.Is(err, ErrSourceUnavailable)
}

// HTTPStatus maps a taxonomy error to the status code surfaced to HTTP callers.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return fasthttp.StatusOK
	case errors.Is(err, ErrPathTraversal):
		return fasthttp.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return fasthttp.StatusNotFound
	case errors.Is(err, ErrNotAFile):
		return fasthttp.StatusBadRequest
	case errors.Is(err, ErrRangeUnsatisfiable):
		return fasthttp.StatusRequestedRangeNotSatisfiable
	case errors.Is(err, ErrConcurrentMigration):
		return fasthttp.StatusConflict
	case errors.Is(err, ErrQueueFull):
		return fasthttp.StatusServiceUnavailable
	case errors.Is(err, ErrTierMismatch), errors.Is(err, ErrUnknownTier):
		return fasthttp.StatusBadRequest
	default:
		return fasthttp.StatusInternalServerError
	}
}
