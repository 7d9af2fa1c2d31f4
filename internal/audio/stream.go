// Package audio holds the audio sources a turn can read from: a push
// stream fed by the caller and converters between wire formats.
package audio

import (
	"context"
	"io"
	"sync"

	"github.com/lexiqai/speech-sdk/internal/speecherr"
)

// Source is the pull contract a turn reads its audio through. Read
// returns io.EOF once the stream has ended.
type Source interface {
	io.Reader
}

// DefaultPushStreamSize is 2 seconds of 16 kHz 16-bit mono audio.
const DefaultPushStreamSize = 64 * 1024

// PushStream is a Source the caller writes audio into. Read blocks until
// audio arrives or the stream is closed. Write blocks while the buffer is
// full.
type PushStream struct {
	buf *RingBuffer

	mu       sync.Mutex
	cond     *sync.Cond
	closed   bool
	aborted  error
	written  int64
	consumed int64
}

// NewPushStream creates a push stream buffering up to size bytes.
func NewPushStream(size int) *PushStream {
	if size <= 0 {
		size = DefaultPushStreamSize
	}
	ps := &PushStream{buf: NewRingBuffer(size + 1)}
	ps.cond = sync.NewCond(&ps.mu)
	return ps
}

// Write queues p in full. It returns an error once the stream is closed.
func (ps *PushStream) Write(p []byte) (int, error) {
	return ps.WriteContext(context.Background(), p)
}

// WriteContext is Write that gives up when ctx is done.
func (ps *PushStream) WriteContext(ctx context.Context, p []byte) (int, error) {
	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() {
			ps.mu.Lock()
			ps.cond.Broadcast()
			ps.mu.Unlock()
		})
		defer stop()
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	total := 0
	for total < len(p) {
		if ps.closed || ps.aborted != nil {
			return total, speecherr.InvalidArgument("write to closed audio stream")
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n := ps.buf.Write(p[total:])
		if n == 0 {
			ps.cond.Wait()
			continue
		}
		total += n
		ps.written += int64(n)
		ps.cond.Broadcast()
	}
	return total, nil
}

// Read fills p with buffered audio. It blocks while the stream is empty
// and open, and returns io.EOF after Close once everything is drained.
func (ps *PushStream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()

	for {
		if ps.aborted != nil {
			return 0, ps.aborted
		}
		if n := ps.buf.Read(p); n > 0 {
			ps.consumed += int64(n)
			ps.cond.Broadcast()
			return n, nil
		}
		if ps.closed {
			return 0, io.EOF
		}
		ps.cond.Wait()
	}
}

// Close marks the end of the audio. Buffered audio is still delivered.
func (ps *PushStream) Close() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.closed = true
	ps.cond.Broadcast()
	return nil
}

// Abort ends the stream immediately, dropping buffered audio. Pending and
// later reads return err.
func (ps *PushStream) Abort(err error) {
	if err == nil {
		err = io.ErrClosedPipe
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.aborted == nil {
		ps.aborted = err
	}
	ps.buf.Clear()
	ps.cond.Broadcast()
}

// Stats returns the bytes written and the bytes read so far.
func (ps *PushStream) Stats() (written, consumed int64) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.written, ps.consumed
}
