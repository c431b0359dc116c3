package core

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"notibridge/internal/bridge"
	"notibridge/pkg/logx"
)

func getJSON(t *testing.T, url string, out any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}

func TestStatusServerEndpoints(t *testing.T) {
	t.Parallel()

	fwd := bridge.NewForwarder("http://localhost:9000", "notifications", nil, logx.Nop())

	var running atomic.Bool
	srv := newStatusServer(logx.Nop(), func() bool { return running.Load() }, fwd)
	if err := srv.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { srv.Stop(context.Background()) })

	base := "http://" + srv.Addr()

	var health map[string]string
	getJSON(t, base+"/health", &health)
	if health["status"] != "healthy" {
		t.Fatalf("health = %+v", health)
	}
	if health["listener_running"] != "false" {
		t.Fatalf("listener_running = %q", health["listener_running"])
	}

	running.Store(true)
	var status map[string]any
	getJSON(t, base+"/status", &status)
	if status["running"] != true {
		t.Fatalf("status = %+v", status)
	}
	if status["target_url"] != "http://localhost:9000" {
		t.Fatalf("target_url = %v", status["target_url"])
	}
	if status["bucket"] != "notifications" {
		t.Fatalf("bucket = %v", status["bucket"])
	}
	if _, ok := status["stats"].(map[string]any); !ok {
		t.Fatalf("stats missing: %+v", status)
	}
}

func TestStatusServerStop(t *testing.T) {
	t.Parallel()

	fwd := bridge.NewForwarder("http://localhost:9000", "notifications", nil, logx.Nop())
	srv := newStatusServer(logx.Nop(), func() bool { return false }, fwd)
	if err := srv.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	srv.Stop(context.Background())
	if addr := srv.Addr(); addr != "" {
		t.Fatalf("expected server to stop, still at %s", addr)
	}
	// Stop again is a no-op.
	srv.Stop(context.Background())
}
