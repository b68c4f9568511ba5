//go:build !cgo

package audioio

import (
	"fmt"
	"log/slog"
)

// NewOtoSink is unavailable without cgo.
func NewOtoSink(_ *slog.Logger) (Sink, error) {
	return nil, fmt.Errorf("%w: oto requires cgo", ErrNotAvailable)
}
