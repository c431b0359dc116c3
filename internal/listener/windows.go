package listener

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"notibridge/internal/bridge"
	"notibridge/pkg/logx"
)

const (
	// pollInterval is the fixed cadence of the toast history poll.
	pollInterval = 500 * time.Millisecond

	// dedupLimit bounds the seen-id set. Exceeding it replaces the set with
	// exactly the ids of the most recent poll. This is a coarse reset, not an
	// LRU: an id evicted while still active elsewhere can be re-delivered if
	// it shows up again later. Known quirk, kept for compatibility.
	dedupLimit = 1000
)

// Toast is one native toast notification as reported by the platform source.
type Toast struct {
	ID      uint32
	AppName string
	// Texts holds the title/body lines from the toast's primary text binding;
	// FallbackTexts comes from the first generic binding. Conversion tries
	// Texts first and falls back independently.
	Texts         []string
	FallbackTexts []string
}

// toastSource abstracts the Windows toast history API so the poll loop and
// dedup logic stay platform-independent. The real source is build-tagged for
// windows; everywhere else a stub reports missing platform support.
type toastSource interface {
	// RequestAccess asks the user for notification access. A denial returns
	// an error wrapping ErrAccessDenied.
	RequestAccess(ctx context.Context) error
	// ActiveToasts lists the currently active toast notifications in the
	// platform's listing order.
	ActiveToasts(ctx context.Context) ([]Toast, error)
}

// WindowsListener polls the toast notification history at a fixed cadence.
// Windows has no push channel for third-party notification observation, so
// new toasts are detected by diffing native ids against a seen set.
//
// Within one poll cycle payloads are delivered strictly in listing order and
// cycles never overlap: the loop waits for all deliveries before sleeping.
type WindowsListener struct {
	log      logx.Logger
	src      toastSource
	interval time.Duration
	maxSeen  int

	mu      sync.Mutex
	running bool
	cb      Callback
	cancel  context.CancelFunc
	done    chan struct{}

	// seen is only touched by the poll loop while it runs; it survives a
	// Stop/Start cycle so already-forwarded toasts are not re-delivered.
	seen map[uint32]struct{}
}

func NewWindows(log logx.Logger) *WindowsListener {
	return &WindowsListener{
		log:      log.With(logx.String("listener", "windows")),
		src:      newToastSource(),
		interval: pollInterval,
		maxSeen:  dedupLimit,
		seen:     make(map[uint32]struct{}),
	}
}

func (l *WindowsListener) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Start requests notification access once addressing the user, then spawns
// the poll loop. A denied or unavailable access status fails Start; no
// polling happens in that case.
func (l *WindowsListener) Start(ctx context.Context, cb Callback) error {
	if err := l.src.RequestAccess(ctx); err != nil {
		return fmt.Errorf("notification listener access: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	l.mu.Lock()
	l.cb = cb
	l.cancel = cancel
	l.done = done
	l.running = true
	l.mu.Unlock()

	go l.pollLoop(runCtx, done)

	l.log.Info("notification listener access granted; polling", logx.Duration("interval", l.interval))
	return nil
}

// Stop cancels the poll loop and waits for it to exit. Safe without a prior
// Start. The cancellation itself is swallowed; only the caller's ctx expiring
// is reported.
func (l *WindowsListener) Stop(ctx context.Context) error {
	l.mu.Lock()
	cancel := l.cancel
	done := l.done
	l.cancel = nil
	l.done = nil
	l.running = false
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	l.log.Info("stopped notification polling")
	return nil
}

func (l *WindowsListener) pollLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	for {
		if ctx.Err() != nil {
			return
		}
		l.pollOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(l.interval):
		}
	}
}

// pollOnce runs one cycle: list active toasts, deliver the unseen ones in
// order, then apply the dedup reset policy. Any failure or panic is contained
// to this cycle; the loop retries at the next tick.
func (l *WindowsListener) pollOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("panic during notification poll", logx.Any("panic", r))
		}
	}()

	toasts, err := l.src.ActiveToasts(ctx)
	if err != nil {
		l.log.Error("polling notifications failed", logx.Err(err))
		return
	}

	l.mu.Lock()
	cb := l.cb
	l.mu.Unlock()

	for _, t := range toasts {
		if _, ok := l.seen[t.ID]; ok {
			continue
		}
		l.seen[t.ID] = struct{}{}

		p, ok := convertToast(t, time.Now())
		if !ok {
			l.log.Warn("toast conversion failed", logx.Uint32("windows_id", t.ID))
			continue
		}

		l.log.Info("notification received", logx.String("app", p.AppName), logx.String("summary", p.Summary))
		if cb != nil {
			// Deliveries are awaited one by one; listing order is preserved.
			cb(ctx, p)
		}
	}

	if len(l.seen) > l.maxSeen {
		current := make(map[uint32]struct{}, len(toasts))
		for _, t := range toasts {
			current[t.ID] = struct{}{}
		}
		l.log.Debug("dedup set reset", logx.Int("dropped", len(l.seen)-len(current)), logx.Int("kept", len(current)))
		l.seen = current
	}
}

// convertToast normalizes one toast. The platform exposes no icon path,
// replacement id, actions or timeout for observed toasts, so those fields are
// fixed; the native id travels in the hints.
func convertToast(t Toast, now time.Time) (p bridge.Payload, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()

	appName := strings.TrimSpace(t.AppName)
	if appName == "" {
		appName = "Unknown"
	}

	texts := t.Texts
	if len(texts) == 0 {
		texts = t.FallbackTexts
	}
	var summary, body string
	if len(texts) > 0 {
		summary = texts[0]
	}
	if len(texts) > 1 {
		body = texts[1]
	}

	return bridge.Payload{
		AppName:    appName,
		Summary:    summary,
		Body:       body,
		Icon:       "",
		ReplacesID: 0,
		Actions:    []string{},
		Hints:      map[string]any{"windows_id": t.ID},
		Timeout:    -1,
		ReceivedAt: bridge.Stamp(now),
	}, true
}
