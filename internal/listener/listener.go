// Package listener captures native desktop notifications and normalizes them
// into bridge payloads.
//
// Two platform variants exist: Linux eavesdrops Notify method calls on the
// session message bus (event-driven), Windows polls the toast notification
// history. Both conform to the Listener contract and are picked by New based
// on the OS identifier.
package listener

import (
	"context"
	"errors"
	"fmt"

	"notibridge/internal/bridge"
	"notibridge/pkg/logx"
)

// Callback receives one normalized payload per observed notification.
// It is invoked from the listener's event-processing path; a slow callback
// slows ingestion (there is no queue in between).
type Callback func(ctx context.Context, p bridge.Payload)

// Listener is the platform-polymorphic notification source.
//
// Start returns once subscription/registration succeeds, not once observation
// ends. Stop must be safe to call without a prior Start and guarantees that
// the callback is not invoked for new events after it returns (in-flight
// events may still complete). Callers must not invoke Start and Stop
// concurrently on the same instance.
type Listener interface {
	Start(ctx context.Context, cb Callback) error
	Stop(ctx context.Context) error
	Running() bool
}

var (
	// ErrUnsupportedPlatform is returned by New for OS identifiers without a
	// listener variant.
	ErrUnsupportedPlatform = errors.New("unsupported platform")

	// ErrAccessDenied is returned by Start when the OS denies notification
	// access (Windows).
	ErrAccessDenied = errors.New("notification access denied")
)

// New returns a fresh listener for the given OS identifier (runtime.GOOS).
// It has no side effects and may be called repeatedly.
func New(goos string, log logx.Logger) (Listener, error) {
	switch goos {
	case "linux":
		return NewLinux(log), nil
	case "windows":
		return NewWindows(log), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, goos)
	}
}
