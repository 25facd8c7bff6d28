package actor

import (
	"context"
	"sync"
)

// DefaultMailboxSize is used when New is given a non-positive size.
const DefaultMailboxSize = 32

// Mailbox is the receiving side of an actor. Only the actor goroutine uses it.
type Mailbox[M any] struct {
	ch        chan M
	done      chan struct{}
	closeOnce sync.Once
}

// Handle is the sending side of an actor. It is safe to copy and share.
// The zero Handle is closed.
type Handle[M any] struct {
	ch   chan<- M
	done <-chan struct{}
}

// New creates a mailbox with the given buffer size and its handle.
func New[M any](size int) (*Mailbox[M], Handle[M]) {
	if size <= 0 {
		size = DefaultMailboxSize
	}
	m := &Mailbox[M]{
		ch:   make(chan M, size),
		done: make(chan struct{}),
	}
	return m, Handle[M]{ch: m.ch, done: m.done}
}

// Receive returns the channel the actor loop reads from.
// The channel is never closed; select on it alongside the actor's own exit
// conditions.
func (m *Mailbox[M]) Receive() <-chan M {
	return m.ch
}

// Close marks the actor as exited. Safe to call more than once.
// Messages still buffered are dropped; pending Calls observe ErrClosed.
func (m *Mailbox[M]) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

// Done is closed when the actor has exited.
func (m *Mailbox[M]) Done() <-chan struct{} {
	return m.done
}

// Notify enqueues msg without waiting for the actor to process it.
// It blocks only while the mailbox is full.
func (h Handle[M]) Notify(ctx context.Context, msg M) error {
	if h.ch == nil || h.Closed() {
		return ErrClosed
	}
	select {
	case h.ch <- msg:
		return nil
	case <-h.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the actor has exited.
func (h Handle[M]) Done() <-chan struct{} {
	if h.done == nil {
		return closedChan
	}
	return h.done
}

// Closed reports whether the actor has exited.
func (h Handle[M]) Closed() bool {
	select {
	case <-h.Done():
		return true
	default:
		return false
	}
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Reply is a one-shot reply channel embedded in a Call message.
type Reply[R any] chan R

// Send delivers the reply. The channel is buffered, so Send never blocks on
// the first call; the actor must call it exactly once per message.
func (r Reply[R]) Send(v R) {
	select {
	case r <- v:
	default:
	}
}

// Call sends the message produced by build and waits for the actor's reply.
//
// A caller that gives up (ctx done) stops waiting but does not cancel the
// message; the actor still processes it.
func Call[M, R any](ctx context.Context, h Handle[M], build func(Reply[R]) M) (R, error) {
	var zero R
	reply := make(Reply[R], 1)
	if err := h.Notify(ctx, build(reply)); err != nil {
		return zero, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-h.done:
		// The actor may have answered just before exiting.
		select {
		case v := <-reply:
			return v, nil
		default:
			return zero, ErrClosed
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Result carries a value or an error through a reply channel.
type Result[T any] struct {
	Value T
	Err   error
}

// CallResult is Call for actors that reply with a Result, flattening the
// reply into the usual (value, error) pair.
func CallResult[M, T any](ctx context.Context, h Handle[M], build func(Reply[Result[T]]) M) (T, error) {
	res, err := Call(ctx, h, build)
	if err != nil {
		var zero T
		return zero, err
	}
	return res.Value, res.Err
}
