package policy

import (
	"sync"
	"time"

	"meridian/pkg/logsink"
)

const (
	backoffStartsAtDenial = 3
	backoffBase           = 5 * time.Second
	backoffCap            = 5 * time.Minute
)

// denialState tracks consecutive denials for one tool name.
type denialState struct {
	consecutive int
	blockedFn   time.Time // zero if not currently backing off
}

// DenialBackoff enforces an escalating cooldown per tool name after
// repeated denials: the first two denials have no cooldown, the third
// denial begins a 5 second backoff that doubles on each further denial
// up to a cap. A successful call or an explicit Reset clears the state.
type DenialBackoff struct {
	mu    sync.Mutex
	state map[string]*denialState
	now   func() time.Time
	// Log, if set, receives one entry each time a denial actually opens a
	// backoff cooldown window (not on the first two, cooldown-free denials).
	Log *logsink.Sink
}

// NewDenialBackoff creates an empty per-tool-name backoff tracker.
func NewDenialBackoff() *DenialBackoff {
	return &DenialBackoff{state: map[string]*denialState{}, now: time.Now}
}

// Blocked reports whether toolName is currently within its backoff
// window, and if so, how much longer until it clears.
func (d *DenialBackoff) Blocked(toolName string) (blocked bool, remaining time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.state[toolName]
	if !ok || s.blockedFn.IsZero() {
		return false, 0
	}
	now := d.now()
	if now.After(s.blockedFn) {
		return false, 0
	}
	return true, s.blockedFn.Sub(now)
}

// Denied records a denial for toolName and returns the cooldown that now
// applies (zero until the third consecutive denial).
func (d *DenialBackoff) Denied(toolName string) time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.state[toolName]
	if !ok {
		s = &denialState{}
		d.state[toolName] = s
	}
	s.consecutive++
	if s.consecutive < backoffStartsAtDenial {
		return 0
	}
	shift := s.consecutive - backoffStartsAtDenial
	cooldown := backoffBase
	for i := 0; i < shift; i++ {
		cooldown *= 2
		if cooldown >= backoffCap {
			cooldown = backoffCap
			break
		}
	}
	s.blockedFn = d.now().Add(cooldown)
	d.logDenial(toolName, cooldown)
	return cooldown
}

func (d *DenialBackoff) logDenial(toolName string, cooldown time.Duration) {
	if d.Log == nil {
		return
	}
	_ = d.Log.Write(logsink.Entry{
		Component: "policy",
		Kind:      "tool_denial_backoff",
		Message:   "tool entered denial backoff",
		Fields:    map[string]any{"tool": toolName, "cooldown_s": cooldown.Seconds()},
	})
}

// Allowed clears toolName's consecutive-denial count on a successful call.
func (d *DenialBackoff) Allowed(toolName string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.state, toolName)
}

// Reset explicitly clears toolName's backoff state.
func (d *DenialBackoff) Reset(toolName string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.state, toolName)
}
