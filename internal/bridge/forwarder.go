package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"golang.org/x/time/rate"

	"notibridge/pkg/logx"
)

// maxErrorBody caps how much of a failure response we pull into logs.
const maxErrorBody = 2048

// contentRequest is the request body for POST {base}/content.
type contentRequest struct {
	Content     string `json:"content"`
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Description string `json:"description"`
}

// Forwarder delivers payloads to the Central Context API.
//
// Forwarding is strictly fire-and-observe: every payload gets exactly one
// HTTP attempt, and any failure is logged and counted but never surfaced to
// the calling listener. There is no retry queue; a slow remote naturally
// throttles ingestion because the listener's event path blocks on Forward.
type Forwarder struct {
	client  *http.Client
	baseURL string
	bucket  string

	log   logx.Logger
	stats *Stats

	// failLim throttles failure logging so an unreachable remote cannot
	// flood the sinks while notifications keep arriving. Failures swallowed
	// by the limiter are tallied and reported on the next emitted line, so
	// no drop goes unaccounted for in the logs.
	failLim    *rate.Limiter
	suppressed atomic.Uint64

	// stampMu serializes name derivation so two forwards in the same
	// microsecond still get distinct names.
	stampMu   sync.Mutex
	lastStamp time.Time
}

func NewForwarder(baseURL, bucket string, client *http.Client, log logx.Logger) *Forwarder {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Forwarder{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		bucket:  bucket,
		log:     log,
		stats:   &Stats{},
		failLim: rate.NewLimiter(rate.Limit(1), 5),
	}
}

func (f *Forwarder) BaseURL() string { return f.baseURL }
func (f *Forwarder) Bucket() string  { return f.bucket }
func (f *Forwarder) Stats() *Stats   { return f.stats }

// Forward ships one payload to the remote content API. It never reports
// failure to the caller; a non-201 status or transport error is logged,
// counted, and the notification is dropped.
func (f *Forwarder) Forward(ctx context.Context, p Payload) {
	name := f.deriveName(p.AppName, time.Now())

	content, err := p.JSON()
	if err != nil {
		// Listeners coerce hints to JSON-safe values, so this should not
		// happen; drop rather than crash if it does.
		f.stats.markDropped()
		f.log.Error("payload serialization failed", logx.String("app", p.AppName), logx.Err(err))
		return
	}

	body, err := json.Marshal(contentRequest{
		Content:     content,
		Bucket:      f.bucket,
		Name:        name,
		ContentType: "application/json",
		Description: fmt.Sprintf("Notification from %s: %s", p.AppName, p.Summary),
	})
	if err != nil {
		f.stats.markDropped()
		f.log.Error("request serialization failed", logx.String("name", name), logx.Err(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+"/content", bytes.NewReader(body))
	if err != nil {
		f.stats.markFailed()
		f.log.Error("building forward request failed", logx.String("name", name), logx.Err(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		f.stats.markFailed()
		f.logFailure(func(suppressed uint64) {
			f.log.Error("forwarding notification failed",
				logx.String("name", name),
				logx.Err(err),
				logx.Uint64("suppressed", suppressed),
			)
		})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		f.stats.markRejected()
		f.logFailure(func(suppressed uint64) {
			f.log.Warn("notification rejected by remote",
				logx.String("name", name),
				logx.Int("status", resp.StatusCode),
				logx.String("response", strings.TrimSpace(string(text))),
				logx.Uint64("suppressed", suppressed),
			)
		})
		return
	}

	f.stats.markForwarded(time.Now())
	f.log.Info("notification forwarded", logx.String("name", name))
}

// logFailure emits one failure line unless the limiter denies it, in which
// case the failure is counted and folded into the next emitted line's
// suppressed field.
func (f *Forwarder) logFailure(emit func(suppressed uint64)) {
	if f.failLim.Allow() {
		emit(f.suppressed.Swap(0))
		return
	}
	f.suppressed.Add(1)
}

// deriveName builds the content name: the app name with every
// non-alphanumeric rune replaced by '_', suffixed with a microsecond UTC
// timestamp. The last issued stamp is remembered so sequential calls are
// distinct even when the clock reads the same microsecond twice (a clock
// jumping backwards can still collide; we don't defend against that).
func (f *Forwarder) deriveName(appName string, now time.Time) string {
	now = now.UTC().Truncate(time.Microsecond)

	f.stampMu.Lock()
	if !now.After(f.lastStamp) {
		now = f.lastStamp.Add(time.Microsecond)
	}
	f.lastStamp = now
	f.stampMu.Unlock()

	return sanitizeAppName(appName) + "_" + now.Format("20060102_150405") + fmt.Sprintf("_%06d", now.Nanosecond()/1000)
}

func sanitizeAppName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}
