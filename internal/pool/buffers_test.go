package pool

import "testing"

func TestControlBufferSizeAndReset(t *testing.T) {
	buf := GetControlBuffer()
	if len(buf) != ControlMessageSize {
		t.Fatalf("buffer size = %d, want %d", len(buf), ControlMessageSize)
	}
	buf[0] = 0x42
	PutControlBuffer(buf)

	buf2 := GetControlBuffer()
	if len(buf2) != ControlMessageSize {
		t.Fatalf("buffer size = %d, want %d", len(buf2), ControlMessageSize)
	}
	if buf2[0] != 0 {
		t.Error("recycled control buffer was not cleared")
	}
}

func TestPutControlBufferRejectsWrongCapacity(t *testing.T) {
	weird := make([]byte, 10)
	PutControlBuffer(weird) // must not panic
}

func TestDatagramBufferSize(t *testing.T) {
	buf := GetDatagramBuffer()
	if len(buf) != MaxDatagramSize {
		t.Fatalf("buffer size = %d, want %d", len(buf), MaxDatagramSize)
	}
	PutDatagramBuffer(buf)

	buf2 := GetDatagramBuffer()
	if len(buf2) != MaxDatagramSize {
		t.Fatalf("buffer size = %d, want %d", len(buf2), MaxDatagramSize)
	}
}

func TestPutDatagramBufferRejectsWrongCapacity(t *testing.T) {
	weird := make([]byte, 1)
	PutDatagramBuffer(weird) // must not panic
}

func BenchmarkControlBufferPool(b *testing.B) {
	for i := 0; i < b.N; i++ {
		buf := GetControlBuffer()
		PutControlBuffer(buf)
	}
}

func BenchmarkDatagramBufferPool(b *testing.B) {
	for i := 0; i < b.N; i++ {
		buf := GetDatagramBuffer()
		PutDatagramBuffer(buf)
	}
}
