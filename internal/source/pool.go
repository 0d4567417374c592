package source

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

const (
	idleTimeout     = 5 * time.Minute
	cleanupInterval = time.Minute
)

// idleWatcher closes relay connections that have not served a query or
// publish for a while, so switching relay modes does not leak sockets to
// the previous set.
type idleWatcher struct {
	pool     *nostr.SimplePool
	lastUsed map[string]time.Time
	mu       sync.Mutex
}

func newIdleWatcher(ctx context.Context, pool *nostr.SimplePool) *idleWatcher {
	w := &idleWatcher{
		pool:     pool,
		lastUsed: make(map[string]time.Time),
	}
	go w.loop(ctx)
	return w
}

// touch records that a relay was just used.
func (w *idleWatcher) touch(relayURL string) {
	w.mu.Lock()
	w.lastUsed[relayURL] = time.Now()
	w.mu.Unlock()
}

func (w *idleWatcher) loop(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.closeIdle()
		case <-ctx.Done():
			return
		}
	}
}

func (w *idleWatcher) closeIdle() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	for url, last := range w.lastUsed {
		if now.Sub(last) <= idleTimeout {
			continue
		}
		if relay, ok := w.pool.Relays.Load(url); ok && relay != nil && relay.IsConnected() {
			if err := relay.Close(); err != nil {
				log.Printf("[SOURCE] Error closing idle relay %s: %v", url, err)
			}
		}
		delete(w.lastUsed, url)
	}
}
