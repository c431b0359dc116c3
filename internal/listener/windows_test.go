package listener

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"notibridge/internal/bridge"
	"notibridge/pkg/logx"
)

// fakeToastSource scripts the poll results cycle by cycle.
type fakeToastSource struct {
	mu         sync.Mutex
	accessErr  error
	cycles     [][]Toast
	cycleErr   map[int]error
	calls      int
	accessReqs int
}

func (f *fakeToastSource) RequestAccess(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accessReqs++
	return f.accessErr
}

func (f *fakeToastSource) ActiveToasts(context.Context) ([]Toast, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if err := f.cycleErr[i]; err != nil {
		return nil, err
	}
	if i < len(f.cycles) {
		return f.cycles[i], nil
	}
	if len(f.cycles) == 0 {
		return nil, nil
	}
	// keep repeating the last cycle
	return f.cycles[len(f.cycles)-1], nil
}

func (f *fakeToastSource) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestWindowsListener(src toastSource) *WindowsListener {
	return &WindowsListener{
		log:      logx.Nop(),
		src:      src,
		interval: 2 * time.Millisecond,
		maxSeen:  dedupLimit,
		seen:     make(map[uint32]struct{}),
	}
}

func TestDedupLimitValue(t *testing.T) {
	t.Parallel()
	// The threshold-and-reset policy is pinned for compatibility.
	if dedupLimit != 1000 {
		t.Fatalf("dedupLimit = %d, want 1000", dedupLimit)
	}
}

func TestWindowsStartDeniedAccess(t *testing.T) {
	t.Parallel()

	src := &fakeToastSource{accessErr: fmt.Errorf("%w: access status %q", ErrAccessDenied, "Denied")}
	l := newTestWindowsListener(src)

	err := l.Start(context.Background(), func(context.Context, bridge.Payload) {})
	if err == nil {
		t.Fatal("expected Start to fail on denied access")
	}
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("error = %v, want ErrAccessDenied", err)
	}
	if l.Running() {
		t.Fatal("listener running after denied access")
	}
	if src.pollCount() != 0 {
		t.Fatalf("polling started despite denial: %d calls", src.pollCount())
	}
}

func TestWindowsPollDedupAndOrdering(t *testing.T) {
	t.Parallel()

	l := newTestWindowsListener(&fakeToastSource{})
	var got []bridge.Payload
	l.cb = func(_ context.Context, p bridge.Payload) { got = append(got, p) }

	toasts := []Toast{
		{ID: 10, AppName: "Mail", Texts: []string{"New mail", "from alice"}},
		{ID: 11, AppName: "Chat", Texts: []string{"ping"}},
		{ID: 12, AppName: "Mail", Texts: []string{"More mail"}},
	}

	// First cycle: all three are new, delivered in listing order.
	l.src = &fakeToastSource{cycles: [][]Toast{toasts}}
	l.pollOnce(context.Background())
	if len(got) != 3 {
		t.Fatalf("callback count = %d, want 3", len(got))
	}
	for i, want := range []uint32{10, 11, 12} {
		if got[i].Hints["windows_id"] != want {
			t.Fatalf("payload %d windows_id = %v, want %d", i, got[i].Hints["windows_id"], want)
		}
	}

	// Second cycle with the same ids plus one new: exactly one delivery.
	l.src = &fakeToastSource{cycles: [][]Toast{append(toasts, Toast{ID: 13, AppName: "Clock", Texts: []string{"alarm"}})}}
	l.pollOnce(context.Background())
	if len(got) != 4 {
		t.Fatalf("callback count = %d, want 4", len(got))
	}
	if got[3].Hints["windows_id"] != uint32(13) {
		t.Fatalf("new payload windows_id = %v, want 13", got[3].Hints["windows_id"])
	}

	// Re-observing only known ids produces nothing.
	l.src = &fakeToastSource{cycles: [][]Toast{toasts}}
	l.pollOnce(context.Background())
	if len(got) != 4 {
		t.Fatalf("callback count = %d, want 4 after repeat cycle", len(got))
	}
}

func TestWindowsDedupReset(t *testing.T) {
	t.Parallel()

	l := newTestWindowsListener(&fakeToastSource{})
	l.maxSeen = 5
	l.cb = func(context.Context, bridge.Payload) {}

	// Six new ids push the set past the threshold; it must then hold exactly
	// the ids of the most recent cycle.
	cycle := make([]Toast, 6)
	for i := range cycle {
		cycle[i] = Toast{ID: uint32(100 + i), AppName: "App"}
	}
	l.src = &fakeToastSource{cycles: [][]Toast{cycle}}
	l.pollOnce(context.Background())

	if len(l.seen) != 6 {
		t.Fatalf("seen size = %d, want 6 (reset to current cycle)", len(l.seen))
	}
	for _, tst := range cycle {
		if _, ok := l.seen[tst.ID]; !ok {
			t.Fatalf("id %d missing from reset set", tst.ID)
		}
	}

	// Known quirk of the coarse reset: ids that were seen before the reset
	// but absent from the resetting cycle are forgotten and re-delivered.
	delivered := 0
	l.cb = func(context.Context, bridge.Payload) { delivered++ }
	l.src = &fakeToastSource{cycles: [][]Toast{{{ID: 1, AppName: "Old"}}}}
	l.pollOnce(context.Background())
	if delivered != 1 {
		t.Fatalf("deliveries = %d, want 1", delivered)
	}
}

func TestWindowsPollCycleErrorContained(t *testing.T) {
	t.Parallel()

	l := newTestWindowsListener(&fakeToastSource{
		cycles:   [][]Toast{nil, {{ID: 1, AppName: "App", Texts: []string{"hi"}}}},
		cycleErr: map[int]error{0: errors.New("winrt hiccup")},
	})
	delivered := 0
	l.cb = func(context.Context, bridge.Payload) { delivered++ }

	l.pollOnce(context.Background()) // fails, contained
	l.pollOnce(context.Background()) // succeeds
	if delivered != 1 {
		t.Fatalf("deliveries = %d, want 1", delivered)
	}
}

func TestWindowsStartStopLifecycle(t *testing.T) {
	t.Parallel()

	src := &fakeToastSource{cycles: [][]Toast{{{ID: 1, AppName: "App", Texts: []string{"hi"}}}}}
	l := newTestWindowsListener(src)

	got := make(chan bridge.Payload, 8)
	err := l.Start(context.Background(), func(_ context.Context, p bridge.Payload) { got <- p })
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !l.Running() {
		t.Fatal("listener not running after Start")
	}

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery from poll loop")
	}

	if err := l.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if l.Running() {
		t.Fatal("listener running after Stop")
	}

	// The loop must be fully stopped: no further polls happen.
	n := src.pollCount()
	time.Sleep(20 * time.Millisecond)
	if src.pollCount() != n {
		t.Fatal("poll loop still active after Stop")
	}

	// Stop again is a no-op.
	if err := l.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestConvertToast(t *testing.T) {
	t.Parallel()

	now := time.Now()

	tests := []struct {
		name    string
		in      Toast
		app     string
		summary string
		body    string
	}{
		{
			name:    "primary texts",
			in:      Toast{ID: 1, AppName: "Mail", Texts: []string{"New mail", "from bob"}},
			app:     "Mail",
			summary: "New mail",
			body:    "from bob",
		},
		{
			name:    "fallback texts",
			in:      Toast{ID: 2, AppName: "Chat", FallbackTexts: []string{"ping"}},
			app:     "Chat",
			summary: "ping",
		},
		{
			name: "unknown app and no text",
			in:   Toast{ID: 3, AppName: "  "},
			app:  "Unknown",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			p, ok := convertToast(tt.in, now)
			if !ok {
				t.Fatal("conversion failed")
			}
			if p.AppName != tt.app || p.Summary != tt.summary || p.Body != tt.body {
				t.Fatalf("payload = %+v", p)
			}
			if p.ReplacesID != 0 || p.Timeout != -1 || p.Icon != "" {
				t.Fatalf("platform-fixed fields wrong: %+v", p)
			}
			if p.Hints["windows_id"] != tt.in.ID {
				t.Fatalf("windows_id = %v, want %d", p.Hints["windows_id"], tt.in.ID)
			}
			if p.Actions == nil || len(p.Actions) != 0 {
				t.Fatalf("Actions = %#v, want empty non-nil", p.Actions)
			}
		})
	}
}
