package server

import (
	"errors"

	"github.com/uscpte7/CAN-Bus1/internal/metrics"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	ErrListen    = errors.New("listen")
	ErrAccept    = errors.New("accept")
	ErrHandshake = errors.New("handshake")
	ErrConnRead  = errors.New("conn_read")
	ErrConnWrite = errors.New("conn_write")
	ErrInject    = errors.New("inject")
	ErrContext   = errors.New("context_cancelled")
	// ErrInjectDropped is returned by an InjectFunc whose target ring is full.
	ErrInjectDropped = errors.New("inject dropped")
)

// mapErrToMetric maps wrapped sentinel errors to metrics labels.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrConnRead), errors.Is(err, ErrAccept), errors.Is(err, ErrListen):
		return metrics.ErrMirrorRead
	case errors.Is(err, ErrConnWrite):
		return metrics.ErrMirrorWrite
	case errors.Is(err, ErrHandshake):
		return metrics.ErrHandshake
	case errors.Is(err, ErrInject):
		return metrics.ErrInject
	case errors.Is(err, ErrContext):
		return "context"
	default:
		return "other"
	}
}
