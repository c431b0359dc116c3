//go:build !windows

package listener

import (
	"context"
	"errors"
)

var errNoWinRT = errors.New("windows notification support is only available on windows builds")

// stubToastSource stands in for the WinRT source on non-windows builds so the
// poller itself stays portable and unit-testable everywhere.
type stubToastSource struct{}

func newToastSource() toastSource { return stubToastSource{} }

func (stubToastSource) RequestAccess(context.Context) error { return errNoWinRT }

func (stubToastSource) ActiveToasts(context.Context) ([]Toast, error) { return nil, errNoWinRT }
