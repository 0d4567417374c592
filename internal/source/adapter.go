// Package source is the I/O boundary to the relay network. It wraps a
// shared connection pool and exposes two operations: a multi-relay query
// that tolerates partial failure, and a publish that succeeds on the
// first accepting relay. No merge logic lives here; callers must assume
// any query result is under-complete.
package source

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"golang.org/x/time/rate"
)

// ErrSourceUnavailable indicates that no queried relay responded at all.
// Partial responses never produce this error.
var ErrSourceUnavailable = errors.New("no relay responded")

// ErrPublishRejected indicates that at least one relay responded but
// refused to store the event. Unreachable relays never produce this
// error.
var ErrPublishRejected = errors.New("relay rejected event")

const (
	queryTimeout   = 15 * time.Second
	publishTimeout = 10 * time.Second
	relayReqRate   = 500 * time.Millisecond
	relayReqBurst  = 4
)

// Adapter queries and publishes signed events over a set of relays.
type Adapter struct {
	pool   *nostr.SimplePool
	health *healthTracker
	idle   *idleWatcher

	limiters   map[string]*rate.Limiter
	limitersMu sync.Mutex
}

// NewAdapter creates an Adapter whose relay connections live until ctx is
// cancelled. The pool is a process-wide shared resource; connections are
// reused additively across queries.
func NewAdapter(ctx context.Context) *Adapter {
	pool := nostr.NewSimplePool(ctx, nostr.WithRelayOptions(
		nostr.WithNoticeHandler(func(notice string) {}),
	))
	return &Adapter{
		pool:     pool,
		health:   newHealthTracker(),
		idle:     newIdleWatcher(ctx, pool),
		limiters: make(map[string]*rate.Limiter),
	}
}

func (a *Adapter) limiter(relay string) *rate.Limiter {
	a.limitersMu.Lock()
	defer a.limitersMu.Unlock()

	limiter, ok := a.limiters[relay]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(relayReqRate), relayReqBurst)
		a.limiters[relay] = limiter
	}
	return limiter
}

// Query fetches events matching filter from every relay in the set and
// returns the deduplicated union. Unreachable relays are tolerated as
// long as at least one responds; if all fail the call returns
// ErrSourceUnavailable.
func (a *Adapter) Query(ctx context.Context, relays []string, filter nostr.Filter) ([]*nostr.Event, error) {
	relays = a.health.filterBanned(relays)
	if len(relays) == 0 {
		return nil, fmt.Errorf("%w: all relays banned or none given", ErrSourceUnavailable)
	}

	outcomes := JoinAll(ctx, relays, func(ctx context.Context, relay string) ([]*nostr.Event, error) {
		return a.queryRelay(ctx, relay, filter)
	})

	var events []*nostr.Event
	seen := make(map[string]bool)
	failures := 0
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			failures++
			a.health.recordFailure(outcome.Relay)
			log.Printf("[SOURCE] Query failed on %s: %v", outcome.Relay, outcome.Err)
			continue
		}
		a.health.recordSuccess(outcome.Relay)
		a.idle.touch(outcome.Relay)
		for _, ev := range outcome.Value {
			if ev == nil || seen[ev.ID] {
				continue
			}
			seen[ev.ID] = true
			events = append(events, ev)
		}
	}

	if failures == len(outcomes) {
		return nil, fmt.Errorf("%w: %d relays failed", ErrSourceUnavailable, failures)
	}
	return events, nil
}

func (a *Adapter) queryRelay(ctx context.Context, relayURL string, filter nostr.Filter) ([]*nostr.Event, error) {
	if err := a.limiter(relayURL).Wait(ctx); err != nil {
		return nil, err
	}

	relay, err := a.pool.EnsureRelay(relayURL)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", relayURL, err)
	}

	subCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	sub, err := relay.Subscribe(subCtx, []nostr.Filter{filter})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", relayURL, err)
	}
	defer sub.Close()

	var events []*nostr.Event
	for {
		select {
		case ev := <-sub.Events:
			if ev == nil {
				return events, nil
			}
			events = append(events, ev)
			if filter.Limit > 0 && len(events) >= filter.Limit {
				return events, nil
			}
		case <-sub.EndOfStoredEvents:
			return events, nil
		case <-subCtx.Done():
			// a slow relay still counts as responded if it sent anything
			if len(events) > 0 {
				return events, nil
			}
			return nil, subCtx.Err()
		}
	}
}

// Publish sends a signed event to every relay in the set and returns as
// soon as one accepts it. When every attempt fails the error is
// ErrPublishRejected if any relay answered with a refusal, and
// ErrSourceUnavailable when none responded at all.
func (a *Adapter) Publish(ctx context.Context, relays []string, ev *nostr.Event) error {
	relays = a.health.filterBanned(relays)
	if len(relays) == 0 {
		return fmt.Errorf("%w: all relays banned or none given", ErrSourceUnavailable)
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err := RaceFirst(pubCtx, relays, func(ctx context.Context, relayURL string) error {
		relay, err := a.pool.EnsureRelay(relayURL)
		if err != nil {
			return fmt.Errorf("connect %s: %w", relayURL, err)
		}
		if err := relay.Publish(ctx, *ev); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrPublishRejected, relayURL, err)
		}
		a.idle.touch(relayURL)
		return nil
	})
	if err != nil {
		return wrapPublishFailure(err)
	}
	return nil
}

// wrapPublishFailure classifies an all-relays-failed publish: an explicit
// refusal from a responding relay outranks connection failures.
func wrapPublishFailure(err error) error {
	if errors.Is(err, ErrPublishRejected) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
}
