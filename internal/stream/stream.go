// Package stream hands bytes from a producer goroutine to a consumer
// through a bounded channel of chunks.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// ErrAborted is returned by Reader.Read when the producer failed. It is
// never io.EOF, so a consumer can tell a truncated stream from a full one.
var ErrAborted = errors.New("stream aborted")

// State is the lifecycle of a stream.
type State int32

const (
	StateIdle State = iota
	StateProducing
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateProducing:
		return "producing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Producer writes the stream content to w. It must return when ctx is done.
type Producer func(ctx context.Context, w io.Writer) error

// Reader is the consumer side of a stream.
type Reader struct {
	ch     chan []byte
	cur    []byte
	cancel context.CancelFunc
	g      *errgroup.Group

	state    atomic.Int32
	waitOnce sync.Once
	err      error
}

// Start runs produce on its own goroutine. Its output is cut into chunks of
// chunkSize bytes and at most buffer chunks are queued; a full queue blocks
// the producer until the consumer catches up or ctx is cancelled.
func Start(ctx context.Context, chunkSize, buffer int, produce Producer) *Reader {
	if chunkSize <= 0 {
		chunkSize = 32 << 10
	}
	if buffer <= 0 {
		buffer = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	r := &Reader{
		ch:     make(chan []byte, buffer),
		cancel: cancel,
		g:      g,
	}
	r.state.Store(int32(StateProducing))

	g.Go(func() error {
		defer close(r.ch)
		w := &chunkWriter{ctx: gctx, ch: r.ch, buf: make([]byte, 0, chunkSize)}
		if err := produce(gctx, w); err != nil {
			return err
		}
		return w.flush()
	})
	return r
}

// State reports where the stream is in its lifecycle.
func (r *Reader) State() State {
	return State(r.state.Load())
}

// Next returns the next whole chunk. At the end it returns io.EOF after a
// clean finish, or an error wrapping ErrAborted.
func (r *Reader) Next() ([]byte, error) {
	if len(r.cur) > 0 {
		chunk := r.cur
		r.cur = nil
		return chunk, nil
	}
	chunk, ok := <-r.ch
	if !ok {
		return nil, r.wait()
	}
	return chunk, nil
}

func (r *Reader) Read(p []byte) (int, error) {
	for len(r.cur) == 0 {
		chunk, ok := <-r.ch
		if !ok {
			return 0, r.wait()
		}
		r.cur = chunk
	}
	n := copy(p, r.cur)
	r.cur = r.cur[n:]
	return n, nil
}

// Close stops the producer and waits for it to exit. It is safe to call
// more than once and after the stream ended.
func (r *Reader) Close() error {
	r.cancel()
	r.wait()
	return nil
}

// Err returns the producer error once the stream has ended, nil otherwise.
func (r *Reader) Err() error {
	switch r.State() {
	case StateFailed:
		return r.err
	default:
		return nil
	}
}

func (r *Reader) wait() error {
	r.waitOnce.Do(func() {
		err := r.g.Wait()
		r.cancel()
		if err != nil {
			r.err = fmt.Errorf("%w: %w", ErrAborted, err)
			r.state.Store(int32(StateFailed))
			return
		}
		r.err = io.EOF
		r.state.Store(int32(StateCompleted))
	})
	return r.err
}

// chunkWriter batches producer writes into fixed size chunks.
type chunkWriter struct {
	ctx context.Context
	ch  chan<- []byte
	buf []byte
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		n := copy(w.buf[len(w.buf):cap(w.buf)], p)
		w.buf = w.buf[:len(w.buf)+n]
		p = p[n:]
		written += n
		if len(w.buf) == cap(w.buf) {
			if err := w.flush(); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

func (w *chunkWriter) flush() error {
	if len(w.buf) == 0 {
		return nil
	}
	chunk := make([]byte, len(w.buf))
	copy(chunk, w.buf)
	select {
	case w.ch <- chunk:
		w.buf = w.buf[:0]
		return nil
	case <-w.ctx.Done():
		return w.ctx.Err()
	}
}
