package serialmux

import (
	"strings"
	"sync"
	"time"
)

// DeviceState collects what the controller has told us about itself. It is
// surfaced on the status endpoint.
type DeviceState struct {
	mu       sync.Mutex
	version  string
	moving   bool
	lastSeen time.Time
	lines    int
}

// DeviceSnapshot is a copy of DeviceState.
type DeviceSnapshot struct {
	Version  string    `json:"version,omitempty"`
	Moving   bool      `json:"moving"`
	LastSeen time.Time `json:"last_seen,omitempty"`
	Lines    int       `json:"lines"`
}

// HandleReply folds one reply line into the state.
func (d *DeviceState) HandleReply(payload string, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lines++
	d.lastSeen = now
	switch ClassifyReply(payload) {
	case ReplyIdle:
		d.moving = false
	case ReplyMoving:
		d.moving = true
	case ReplyVersion:
		d.version = strings.TrimSpace(payload)
		logf("controller firmware %s", d.version)
	case ReplyPulse:
	default:
		logf("unknown controller reply: %q", payload)
	}
}

// Snapshot returns a copy of the state.
func (d *DeviceState) Snapshot() DeviceSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DeviceSnapshot{Version: d.version, Moving: d.moving, LastSeen: d.lastSeen, Lines: d.lines}
}
