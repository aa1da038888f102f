package mcpmgr

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Admission is the outcome of a rate-limit check.
type Admission struct {
	Admitted bool
	// Wait is the remaining time until the server may be called again. Zero
	// when admitted.
	Wait time.Duration
}

// WaitSeconds is Wait rounded up to whole seconds.
func (a Admission) WaitSeconds() int { return waitSeconds(a.Wait) }

// RateLimiter enforces a minimum interval between admitted calls per server
// name. Names compare case-insensitively.
type RateLimiter struct {
	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

// NewRateLimiter returns a limiter using the wall clock.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{last: make(map[string]time.Time), now: time.Now}
}

// CheckAndRecord admits the call when at least minInterval has passed since
// the last admitted call to name, recording the admission. A rejected call
// records nothing.
func (r *RateLimiter) CheckAndRecord(name string, minInterval time.Duration) Admission {
	key := strings.ToLower(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if last, ok := r.last[key]; ok && minInterval > 0 {
		if elapsed := now.Sub(last); elapsed < minInterval {
			return Admission{Wait: minInterval - elapsed}
		}
	}
	r.last[key] = now
	return Admission{Admitted: true}
}

// Remaining reports how long name must still wait, without recording.
func (r *RateLimiter) Remaining(name string, minInterval time.Duration) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	last, ok := r.last[strings.ToLower(name)]
	if !ok {
		return 0
	}
	if wait := minInterval - r.now().Sub(last); wait > 0 {
		return wait
	}
	return 0
}

// RateLimitMessage is the user-facing text for a rejected call.
func RateLimitMessage(server string, seconds int) string {
	unit := "seconds"
	if seconds == 1 {
		unit = "second"
	}
	return fmt.Sprintf("[Error 429]: %s has reached its rate limit. Wait %d %s and try again.", server, seconds, unit)
}

func waitSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
