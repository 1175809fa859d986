package pipeline

import (
	"context"
	"sync"

	mimir "github.com/user/mimir"
)

// Bus is the ordered event stream for one request. The pipeline is the
// only writer; one consumer drains Events. Emit blocks until the event is
// buffered or the request context ends, preserving per-request ordering.
type Bus struct {
	ch        chan mimir.Event
	closeOnce sync.Once
}

func NewBus(buf int) *Bus {
	if buf <= 0 {
		buf = 64
	}
	return &Bus{ch: make(chan mimir.Event, buf)}
}

// Emit queues ev. Returns false when the request context ended first.
func (b *Bus) Emit(ctx context.Context, ev mimir.Event) bool {
	if b == nil {
		return true
	}
	select {
	case b.ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Events is the consumer side; closed when the pipeline finishes.
func (b *Bus) Events() <-chan mimir.Event {
	return b.ch
}

// Close ends the stream. Safe to call more than once.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	b.closeOnce.Do(func() { close(b.ch) })
}
