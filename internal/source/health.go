package source

import (
	"sync"
	"time"
)

const (
	maxRelayFailures     = 3
	relayBanDuration     = 30 * time.Minute
	relayFailureResetAge = 10 * time.Minute
)

type relayFailureInfo struct {
	failureCount int
	lastFailure  time.Time
	bannedUntil  time.Time
}

// healthTracker bans relays that keep failing so queries stop waiting on
// dead endpoints. A later success clears the record.
type healthTracker struct {
	failedRelays map[string]*relayFailureInfo
	mu           sync.RWMutex
}

func newHealthTracker() *healthTracker {
	return &healthTracker{failedRelays: make(map[string]*relayFailureInfo)}
}

func (t *healthTracker) isBanned(relay string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if info, exists := t.failedRelays[relay]; exists {
		return time.Now().Before(info.bannedUntil)
	}
	return false
}

func (t *healthTracker) recordFailure(relay string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	info, exists := t.failedRelays[relay]
	if !exists || now.Sub(info.lastFailure) > relayFailureResetAge {
		t.failedRelays[relay] = &relayFailureInfo{failureCount: 1, lastFailure: now}
		return
	}

	info.failureCount++
	info.lastFailure = now
	if info.failureCount >= maxRelayFailures {
		info.bannedUntil = now.Add(relayBanDuration)
	}
}

func (t *healthTracker) recordSuccess(relay string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.failedRelays, relay)
}

// filterBanned removes currently banned relays from the list.
func (t *healthTracker) filterBanned(relays []string) []string {
	filtered := make([]string, 0, len(relays))
	for _, relay := range relays {
		if !t.isBanned(relay) {
			filtered = append(filtered, relay)
		}
	}
	return filtered
}
