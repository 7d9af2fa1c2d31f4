package audio

import (
	"sync"
)

// RingBuffer is a thread-safe fixed capacity byte queue for audio data.
// One slot is kept free to tell full from empty, so it holds size-1 bytes.
type RingBuffer struct {
	buffer []byte
	size   int
	read   int
	write  int
	mu     sync.RWMutex
}

// NewRingBuffer creates a new ring buffer with the specified size
func NewRingBuffer(size int) *RingBuffer {
	if size < 2 {
		size = 2
	}
	return &RingBuffer{
		buffer: make([]byte, size),
		size:   size,
	}
}

// Write copies as much of data as fits and returns the number of bytes
// written.
func (rb *RingBuffer) Write(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := min(len(data), rb.spaceLocked())
	if n == 0 {
		return 0
	}
	first := copy(rb.buffer[rb.write:], data[:n])
	if first < n {
		copy(rb.buffer, data[first:n])
	}
	rb.write = (rb.write + n) % rb.size
	return n
}

// Read copies up to len(data) buffered bytes into data and returns the
// number of bytes read.
func (rb *RingBuffer) Read(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := min(len(data), rb.availableLocked())
	if n == 0 {
		return 0
	}
	end := rb.read + n
	if end <= rb.size {
		copy(data, rb.buffer[rb.read:end])
	} else {
		first := copy(data, rb.buffer[rb.read:])
		copy(data[first:n], rb.buffer[:n-first])
	}
	rb.read = end % rb.size
	return n
}

// Available returns the number of bytes available to read
func (rb *RingBuffer) Available() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.availableLocked()
}

// Space returns the number of bytes that can still be written
func (rb *RingBuffer) Space() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.spaceLocked()
}

// Cap is the most the buffer can hold at once.
func (rb *RingBuffer) Cap() int {
	return rb.size - 1
}

// Clear drops everything buffered.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.read = 0
	rb.write = 0
}

func (rb *RingBuffer) IsEmpty() bool {
	return rb.Available() == 0
}

func (rb *RingBuffer) IsFull() bool {
	return rb.Space() == 0
}

func (rb *RingBuffer) availableLocked() int {
	if rb.write >= rb.read {
		return rb.write - rb.read
	}
	return rb.size - rb.read + rb.write
}

func (rb *RingBuffer) spaceLocked() int {
	return rb.size - 1 - rb.availableLocked()
}
