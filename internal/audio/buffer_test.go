package audio

import (
	"bytes"
	"testing"
)

func TestRingBuffer_PartialWriteWhenFull(t *testing.T) {
	rb := NewRingBuffer(5)

	written := rb.Write([]byte{1, 2, 3, 4, 5, 6})
	if written != 4 {
		t.Errorf("Expected to write 4 bytes, got %d", written)
	}
	if !rb.IsFull() {
		t.Error("Expected buffer to be full after writing size-1 bytes")
	}
	if rb.Cap() != 4 {
		t.Errorf("Expected capacity 4, got %d", rb.Cap())
	}
	if written := rb.Write([]byte{7}); written != 0 {
		t.Errorf("Expected to write 0 bytes to a full buffer, got %d", written)
	}
}

func TestRingBuffer_ReadEmpty(t *testing.T) {
	rb := NewRingBuffer(10)
	if !rb.IsEmpty() {
		t.Error("Expected buffer to be empty initially")
	}
	if read := rb.Read(make([]byte, 5)); read != 0 {
		t.Errorf("Expected to read 0 bytes from empty buffer, got %d", read)
	}
}

func TestRingBuffer_WrapAround(t *testing.T) {
	tests := []struct {
		name   string
		size   int
		first  []byte
		drain  int
		second []byte
		want   []byte
	}{
		{
			name:   "write wraps",
			size:   5,
			first:  []byte{1, 2, 3, 4},
			drain:  2,
			second: []byte{5, 6},
			want:   []byte{3, 4, 5, 6},
		},
		{
			name:   "write and read wrap repeatedly",
			size:   7,
			first:  []byte{1, 2, 3, 4, 5},
			drain:  4,
			second: []byte{6, 7, 8, 9, 10},
			want:   []byte{5, 6, 7, 8, 9, 10},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rb := NewRingBuffer(tt.size)
			rb.Write(tt.first)
			rb.Read(make([]byte, tt.drain))
			if written := rb.Write(tt.second); written != len(tt.second) {
				t.Fatalf("Expected to write %d bytes, got %d", len(tt.second), written)
			}
			if rb.Available() != len(tt.want) {
				t.Errorf("Expected available %d, got %d", len(tt.want), rb.Available())
			}

			got := make([]byte, 16)
			n := rb.Read(got)
			if !bytes.Equal(got[:n], tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, got[:n])
			}
		})
	}
}

func TestRingBuffer_Clear(t *testing.T) {
	rb := NewRingBuffer(10)
	rb.Write([]byte{1, 2, 3, 4, 5})

	rb.Clear()
	if !rb.IsEmpty() {
		t.Error("Expected buffer to be empty after clear")
	}
	if rb.Space() != 9 {
		t.Errorf("Expected space 9 after clear, got %d", rb.Space())
	}
}
