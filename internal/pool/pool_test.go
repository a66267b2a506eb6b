package pool

import "testing"

func TestBufferPool(t *testing.T) {
	p := NewBufferPool(16)

	buf := p.Get()
	if buf.Len() != 0 {
		t.Fatalf("new buffer Len() = %d, want 0", buf.Len())
	}
	buf.Write([]byte("hello"))
	buf.WriteByte('\n')
	if string(buf.Bytes()) != "hello\n" {
		t.Errorf("Bytes() = %q, want %q", buf.Bytes(), "hello\n")
	}
	p.Put(buf)

	again := p.Get()
	if again.Len() != 0 {
		t.Errorf("reused buffer Len() = %d, want 0", again.Len())
	}
}

func TestBufferPool_DropsOversized(t *testing.T) {
	p := NewBufferPool(0)
	buf := &ByteBuffer{Data: make([]byte, 0, maxRetained+1)}
	p.Put(buf)
	if got := p.Get(); cap(got.Data) > maxRetained {
		t.Errorf("oversized buffer was retained (cap %d)", cap(got.Data))
	}
}
