// Package bridge holds the normalized notification model and the forwarding
// pipeline that ships notifications to the Central Context API.
package bridge

import (
	"encoding/json"
	"time"
)

// Payload is the platform-independent representation of one desktop
// notification. It is built once inside a listener's event-processing path
// and never mutated afterwards.
//
// Every field is always present: listeners must fill Actions and Hints with
// empty (non-nil) values when the platform has nothing to report, so no
// partial payloads ever reach the forwarder.
type Payload struct {
	AppName    string         `json:"app_name"`
	Summary    string         `json:"summary"`
	Body       string         `json:"body"`
	Icon       string         `json:"icon"`
	ReplacesID uint32         `json:"replaces_id"`
	Actions    []string       `json:"actions"`
	Hints      map[string]any `json:"hints"`
	Timeout    int32          `json:"timeout"`
	// ReceivedAt is the normalization time (UTC, ISO-8601), not the OS
	// emission time.
	ReceivedAt string `json:"received_at"`
}

// Stamp returns the ReceivedAt value for a payload normalized at t.
func Stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// JSON returns the canonical JSON text form of the payload.
func (p Payload) JSON() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
