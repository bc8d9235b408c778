package engine

import (
	"time"

	"github.com/jonboulle/clockwork"

	"collabtext/internal/watch"
)

// expectWindow bounds how long a file event caused by the engine is waited
// for before a matching event is treated as a genuine local change again.
const expectWindow = 5 * time.Second

type expectKey struct {
	op   watch.Op
	path string
}

// expected tracks watcher events the engine itself is about to cause, such
// as creating a missing file or moving one to the trash. Only the session
// loop touches it.
type expected struct {
	clock   clockwork.Clock
	pending map[expectKey]time.Time
}

func newExpected(clock clockwork.Clock) *expected {
	return &expected{clock: clock, pending: make(map[expectKey]time.Time)}
}

func (e *expected) add(op watch.Op, path string) {
	e.pending[expectKey{op, path}] = e.clock.Now().Add(expectWindow)
}

func (e *expected) remove(op watch.Op, path string) {
	delete(e.pending, expectKey{op, path})
}

// consume reports whether ev was expected, forgetting it if so.
func (e *expected) consume(ev watch.Event) bool {
	key := expectKey{ev.Op, ev.Path}
	deadline, ok := e.pending[key]
	if !ok {
		return false
	}
	delete(e.pending, key)
	return !e.clock.Now().After(deadline)
}

func (e *expected) reset() {
	clear(e.pending)
}
