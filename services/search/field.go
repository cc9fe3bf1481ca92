package search

import (
	"context"
	"sync"

	"github.com/meghashyamc/placefinder/clock"
	"github.com/meghashyamc/placefinder/provider"
)

// ApplyFunc receives every result set a Field accepts. err is only set when the
// dataset fallback failed too. It is called with the field locked, so it must not
// call back into the Field.
type ApplyFunc func(resultSet ResultSet, err error)

// Field debounces the queries typed into one input box and makes sure only the
// answer to the latest dispatched query is applied.
type Field struct {
	coordinator *Coordinator
	name        string
	opts        provider.PredictOptions
	apply       ApplyFunc
	ctx         context.Context

	mu                sync.Mutex
	timer             clock.Timer
	pending           uint64
	generation        uint64
	lastDispatchedKey string
	cancel            context.CancelFunc
	closed            bool
	inflight          sync.WaitGroup
}

// NewField creates a field whose dispatches are bound to ctx.
func (c *Coordinator) NewField(ctx context.Context, name string, opts provider.PredictOptions, apply ApplyFunc) *Field {
	return &Field{
		coordinator: c,
		name:        name,
		opts:        c.predictOptions(opts),
		apply:       apply,
		ctx:         ctx,
	}
}

func (f *Field) Name() string {
	return f.name
}

// Generation is the generation of the most recent dispatch.
func (f *Field) Generation() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.generation
}

// Query restarts the debounce window with text. Blank text clears the field at once.
func (f *Field) Query(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}

	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.pending++

	if normalize(text) == "" {
		f.generation++
		f.cancelDispatchLocked()
		f.lastDispatchedKey = ""
		f.apply(ResultSet{Items: []provider.Candidate{}, Generation: f.generation}, nil)
		return
	}

	seq := f.pending
	f.timer = f.coordinator.opts.Clock.AfterFunc(f.coordinator.opts.Debounce, func() {
		f.dispatch(text, seq)
	})
}

func (f *Field) dispatch(text string, seq uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || seq != f.pending {
		return
	}
	f.timer = nil

	// The same query is already shown or on its way.
	key := cacheKey(normalize(text), f.opts)
	if key == f.lastDispatchedKey {
		return
	}

	f.generation++
	f.cancelDispatchLocked()
	ctx, cancel := context.WithCancel(f.ctx)
	f.cancel = cancel
	f.lastDispatchedKey = key

	f.inflight.Add(1)
	go f.run(ctx, cancel, text, key, f.generation)
}

func (f *Field) run(ctx context.Context, cancel context.CancelFunc, text string, key string, generation uint64) {
	defer f.inflight.Done()
	defer cancel()

	resultSet, store, err := f.coordinator.resolve(ctx, text, f.opts)
	resultSet.Generation = generation

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || generation != f.generation {
		f.coordinator.opts.Metrics.ObserveStaleDiscard()
		f.coordinator.logger.Debug("discarding stale search result", "field", f.name, "generation", generation, "latest", f.generation)
		return
	}

	if err != nil {
		// Nothing was shown for this query, so the same text may be dispatched again.
		f.lastDispatchedKey = ""
		f.apply(resultSet, err)
		return
	}
	if store {
		f.coordinator.results.Set(ctx, key, resultSet.Items)
	}
	f.apply(resultSet, nil)
}

// Close stops the debounce timer and abandons any dispatch in flight.
func (f *Field) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.cancelDispatchLocked()
}

func (f *Field) cancelDispatchLocked() {
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
}

// wait blocks until every dispatch started so far has settled.
func (f *Field) wait() {
	f.inflight.Wait()
}
