// Package stream forwards one request's pipeline events to a websocket
// client, with sequence numbers and a bounded outbound queue. A client
// that cannot keep up is closed with a backpressure error; a client that
// disconnects cancels the request upstream.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	mimir "github.com/user/mimir"
)

// Frame is one wire event. Every frame carries the request id and a
// monotonically increasing sequence number.
type Frame struct {
	RequestID string `json:"request_id"`
	Seq       uint64 `json:"seq"`
	mimir.Event
}

const (
	defaultQueueSize = 64
	writeTimeout     = 10 * time.Second
)

type Dispatcher struct {
	conn      *websocket.Conn
	requestID string
	cancel    context.CancelFunc
	logger    mimir.Logger

	queue chan Frame
	seq   uint64

	closeOnce sync.Once
	done      chan struct{}
}

// New wires a dispatcher to conn. cancel is invoked when the client
// disconnects or falls behind, and propagates to the pipeline.
func New(conn *websocket.Conn, requestID string, cancel context.CancelFunc, logger mimir.Logger) *Dispatcher {
	return &Dispatcher{
		conn:      conn,
		requestID: requestID,
		cancel:    cancel,
		logger:    logger,
		queue:     make(chan Frame, defaultQueueSize),
		done:      make(chan struct{}),
	}
}

// Send enqueues one event. When the queue is full the stream is closed
// with a backpressure error and false is returned.
func (d *Dispatcher) Send(ev mimir.Event) bool {
	d.seq++
	frame := Frame{RequestID: d.requestID, Seq: d.seq, Event: ev}
	select {
	case d.queue <- frame:
		return true
	case <-d.done:
		return false
	default:
	}

	if d.logger != nil {
		d.logger.Warn("stream client too slow, closing", "request_id", d.requestID, "seq", d.seq)
	}
	d.closeWith(mimir.Event{
		Type:    mimir.EventError,
		Kind:    mimir.KindBackpressure,
		Message: "client cannot keep up with the event stream",
	})
	return false
}

// Pump drains the request bus into Send until a terminal event or until
// events closes. It finishes the stream afterwards.
func (d *Dispatcher) Pump(events <-chan mimir.Event) {
	for ev := range events {
		if !d.Send(ev) {
			return
		}
		if ev.Terminal() {
			break
		}
	}
	d.Close()
}

// Run writes queued frames to the connection until the stream ends.
// Intended to run on its own goroutine for the lifetime of the request.
func (d *Dispatcher) Run(ctx context.Context) {
	defer d.cancel()
	for {
		select {
		case frame, ok := <-d.queue:
			if !ok {
				return
			}
			d.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := d.conn.WriteJSON(frame); err != nil {
				if d.logger != nil {
					d.logger.Debug("stream write failed", "request_id", d.requestID, "error", err)
				}
				d.closeNow()
				return
			}
		case <-ctx.Done():
			d.closeNow()
			return
		case <-d.done:
			// Flush anything already queued, then stop.
			for {
				select {
				case frame, ok := <-d.queue:
					if !ok {
						return
					}
					d.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					if d.conn.WriteJSON(frame) != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// WatchClient reads from the connection solely to detect disconnects;
// any read error cancels the request.
func (d *Dispatcher) WatchClient() {
	for {
		if _, _, err := d.conn.ReadMessage(); err != nil {
			d.closeNow()
			return
		}
	}
}

// Close ends the stream gracefully after the queue drains.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.done) })
}

func (d *Dispatcher) closeNow() {
	d.cancel()
	d.Close()
}

// closeWith enqueues a terminal event ahead of closing, dropping it when
// the queue has no room left.
func (d *Dispatcher) closeWith(ev mimir.Event) {
	d.seq++
	frame := Frame{RequestID: d.requestID, Seq: d.seq, Event: ev}
	select {
	case d.queue <- frame:
	default:
		// Shed one queued event so the terminal error still gets through.
		select {
		case <-d.queue:
		default:
		}
		select {
		case d.queue <- frame:
		default:
		}
	}
	d.closeNow()
}
