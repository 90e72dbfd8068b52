package secret

import (
	"testing"
	"time"
)

func TestInitProducesUsableKeys(t *testing.T) {
	var s State
	if err := s.Init(time.Minute); err != nil {
		t.Fatalf("Init: %v", err)
	}
	cur := s.CurrentKey()
	prev := s.PreviousKey()
	if cur != prev {
		t.Error("expected current and previous keys to match immediately after Init")
	}
	var zero [KeySize]byte
	if cur == zero {
		t.Error("derived key should not be all-zero")
	}
}

func TestMaybeRotateAdvancesOnce(t *testing.T) {
	var s State
	if err := s.Init(time.Second); err != nil {
		t.Fatalf("Init: %v", err)
	}
	before := s.CurrentKey()

	future := time.Now().Add(2 * time.Second)
	if err := s.MaybeRotate(future); err != nil {
		t.Fatalf("MaybeRotate: %v", err)
	}
	after := s.CurrentKey()
	if before == after {
		t.Error("expected key to change after rotation deadline passed")
	}
	if s.PreviousKey() != before {
		t.Error("expected previous key to hold the pre-rotation key")
	}

	// A second call before the next deadline must be a no-op.
	if err := s.MaybeRotate(future); err != nil {
		t.Fatalf("MaybeRotate (second): %v", err)
	}
	if s.CurrentKey() != after {
		t.Error("did not expect a second rotation before the next deadline")
	}
}

func TestMaybeRotateNoOpBeforeDeadline(t *testing.T) {
	var s State
	if err := s.Init(time.Hour); err != nil {
		t.Fatalf("Init: %v", err)
	}
	before := s.CurrentKey()
	if err := s.MaybeRotate(time.Now()); err != nil {
		t.Fatalf("MaybeRotate: %v", err)
	}
	if s.CurrentKey() != before {
		t.Error("did not expect rotation before the deadline")
	}
}
