package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"notibridge/internal/bridge"
	"notibridge/pkg/logx"
)

const (
	notifyInterface = "org.freedesktop.Notifications"
	notifyMember    = "Notify"

	// eavesdropMatchRule subscribes us to Notify method calls addressed to the
	// desktop notification daemon, not to us.
	eavesdropMatchRule = "type='method_call'," +
		"interface='" + notifyInterface + "'," +
		"member='" + notifyMember + "'," +
		"eavesdrop=true"
)

// notifyArgCount is the size of the Notify argument tuple (susssasa{sv}i):
// app name, replaces id, icon, summary, body, actions, hints, timeout.
const notifyArgCount = 8

// sessionBus is the slice of a bus connection Start needs. The real
// implementation wraps *dbus.Conn; tests substitute a fake.
type sessionBus interface {
	AddMatch(ctx context.Context, rule string) error
	Eavesdrop(ch chan<- *dbus.Message)
	Close() error
}

type dbusSession struct {
	conn *dbus.Conn
}

func (s *dbusSession) AddMatch(ctx context.Context, rule string) error {
	return s.conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.AddMatch", 0, rule).Err
}

func (s *dbusSession) Eavesdrop(ch chan<- *dbus.Message) { s.conn.Eavesdrop(ch) }

func (s *dbusSession) Close() error { return s.conn.Close() }

func connectSessionBus() (sessionBus, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, err
	}
	return &dbusSession{conn: conn}, nil
}

// LinuxListener observes desktop notifications by eavesdropping Notify method
// calls on the session message bus.
//
// Each matching message is handed to its own goroutine so the bus dispatch
// path never blocks on payload conversion or on the callback.
type LinuxListener struct {
	log     logx.Logger
	connect func() (sessionBus, error)

	mu      sync.Mutex
	bus     sessionBus
	running bool
	cb      Callback
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewLinux(log logx.Logger) *LinuxListener {
	return &LinuxListener{
		log:     log.With(logx.String("listener", "linux")),
		connect: connectSessionBus,
	}
}

func (l *LinuxListener) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Start connects a private session bus connection and registers the eavesdrop
// match rule. A connection failure is returned to the caller; a rejected
// AddMatch is logged and leaves the listener not running without an error.
func (l *LinuxListener) Start(ctx context.Context, cb Callback) error {
	bus, err := l.connect()
	if err != nil {
		return fmt.Errorf("session bus: %w", err)
	}

	if err := bus.AddMatch(ctx, eavesdropMatchRule); err != nil {
		// Soft failure: some bus configurations reject eavesdropping. The
		// listener stays down but the service keeps running.
		l.log.Error("adding notification match rule failed", logx.Err(err))
		_ = bus.Close()
		return nil
	}

	msgs := make(chan *dbus.Message, 64)
	bus.Eavesdrop(msgs)

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	l.mu.Lock()
	l.bus = bus
	l.cb = cb
	l.cancel = cancel
	l.done = done
	l.running = true
	l.mu.Unlock()

	go l.dispatch(runCtx, msgs, done)

	l.log.Info("subscribed to session bus notifications")
	return nil
}

// Stop disconnects from the bus and halts dispatch. Safe to call without a
// prior Start or after a failed one.
func (l *LinuxListener) Stop(ctx context.Context) error {
	l.mu.Lock()
	bus := l.bus
	cancel := l.cancel
	done := l.done
	l.bus = nil
	l.cancel = nil
	l.done = nil
	l.running = false
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if bus != nil {
		_ = bus.Close()
		l.log.Info("disconnected from session bus")
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// dispatch fans eavesdropped messages out to per-message goroutines. It only
// filters here; all parsing happens off the dispatch path.
func (l *LinuxListener) dispatch(ctx context.Context, msgs <-chan *dbus.Message, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if msg == nil || !isNotifyCall(msg) {
				continue
			}
			go l.process(ctx, msg)
		}
	}
}

func isNotifyCall(msg *dbus.Message) bool {
	if msg.Type != dbus.TypeMethodCall {
		return false
	}
	iface, _ := msg.Headers[dbus.FieldInterface].Value().(string)
	member, _ := msg.Headers[dbus.FieldMember].Value().(string)
	return iface == notifyInterface && member == notifyMember
}

// process converts one Notify call into a payload and invokes the callback.
// Every failure mode is contained here: a malformed message is logged and
// dropped, and a panic never takes the listener down.
func (l *LinuxListener) process(ctx context.Context, msg *dbus.Message) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("panic while processing notification", logx.Any("panic", r))
		}
	}()

	p, err := payloadFromNotify(msg.Body, time.Now())
	if err != nil {
		l.log.Warn("malformed notification message", logx.Err(err), logx.Int("args", len(msg.Body)))
		return
	}

	l.log.Info("notification received", logx.String("app", p.AppName), logx.String("summary", p.Summary))

	l.mu.Lock()
	cb := l.cb
	l.mu.Unlock()
	if cb != nil {
		cb(ctx, p)
	}
}

// payloadFromNotify validates the Notify argument tuple and builds a payload
// with ReceivedAt set to now.
func payloadFromNotify(args []any, now time.Time) (bridge.Payload, error) {
	if len(args) < notifyArgCount {
		return bridge.Payload{}, fmt.Errorf("short argument tuple: got %d, want %d", len(args), notifyArgCount)
	}

	appName, ok := args[0].(string)
	if !ok {
		return bridge.Payload{}, fmt.Errorf("app_name: unexpected type %T", args[0])
	}
	replacesID, ok := args[1].(uint32)
	if !ok {
		return bridge.Payload{}, fmt.Errorf("replaces_id: unexpected type %T", args[1])
	}
	icon, ok := args[2].(string)
	if !ok {
		return bridge.Payload{}, fmt.Errorf("icon: unexpected type %T", args[2])
	}
	summary, ok := args[3].(string)
	if !ok {
		return bridge.Payload{}, fmt.Errorf("summary: unexpected type %T", args[3])
	}
	body, ok := args[4].(string)
	if !ok {
		return bridge.Payload{}, fmt.Errorf("body: unexpected type %T", args[4])
	}
	actions, ok := args[5].([]string)
	if !ok {
		return bridge.Payload{}, fmt.Errorf("actions: unexpected type %T", args[5])
	}
	rawHints, ok := args[6].(map[string]dbus.Variant)
	if !ok {
		return bridge.Payload{}, fmt.Errorf("hints: unexpected type %T", args[6])
	}
	timeout, ok := args[7].(int32)
	if !ok {
		return bridge.Payload{}, fmt.Errorf("timeout: unexpected type %T", args[7])
	}

	hints := make(map[string]any, len(rawHints))
	for k, v := range rawHints {
		hints[k] = hintValue(v.Value())
	}

	if actions == nil {
		actions = []string{}
	}

	return bridge.Payload{
		AppName:    appName,
		Summary:    summary,
		Body:       body,
		Icon:       icon,
		ReplacesID: replacesID,
		Actions:    append([]string{}, actions...),
		Hints:      hints,
		Timeout:    timeout,
		ReceivedAt: bridge.Stamp(now),
	}, nil
}

// hintValue maps a D-Bus hint value into JSON's value model. Values without a
// JSON representation are coerced to their string form rather than dropped.
func hintValue(v any) any {
	switch x := v.(type) {
	case dbus.Variant:
		return hintValue(x.Value())
	case dbus.ObjectPath:
		return string(x)
	case dbus.Signature:
		return x.String()
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = hintValue(e)
		}
		return out
	case map[string]dbus.Variant:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = hintValue(e.Value())
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = hintValue(e)
		}
		return out
	default:
		if _, err := json.Marshal(v); err != nil {
			return fmt.Sprint(v)
		}
		return v
	}
}
