package source

import (
	"context"
	"errors"
	"sync"
)

// Outcome is the per-relay result of a fan-out operation.
type Outcome[T any] struct {
	Relay string
	Value T
	Err   error
}

// JoinAll runs fn against every relay concurrently and waits for all of
// them, tolerating individual failures. The caller decides what a fully
// failed fan-out means.
func JoinAll[T any](ctx context.Context, relays []string, fn func(context.Context, string) (T, error)) []Outcome[T] {
	outcomes := make([]Outcome[T], len(relays))

	var wg sync.WaitGroup
	for i, relay := range relays {
		wg.Add(1)
		go func(i int, relay string) {
			defer wg.Done()
			value, err := fn(ctx, relay)
			outcomes[i] = Outcome[T]{Relay: relay, Value: value, Err: err}
		}(i, relay)
	}
	wg.Wait()

	return outcomes
}

// RaceFirst runs fn against every relay concurrently and returns nil as
// soon as one succeeds, cancelling the rest. If all attempts fail it
// returns the joined errors.
func RaceFirst(ctx context.Context, relays []string, fn func(context.Context, string) error) error {
	if len(relays) == 0 {
		return errors.New("no relays to try")
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, len(relays))
	for _, relay := range relays {
		go func(relay string) {
			errs <- fn(raceCtx, relay)
		}(relay)
	}

	var failures []error
	for range relays {
		err := <-errs
		if err == nil {
			return nil
		}
		failures = append(failures, err)
	}

	return errors.Join(failures...)
}
