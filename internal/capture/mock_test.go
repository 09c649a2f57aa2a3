package capture

import (
	"errors"
	"io"
	"testing"
)

// TestMockSourceGuardsDimensions checks degenerate constructor
// arguments still yield readable frames instead of a divide by zero.
func TestMockSourceGuardsDimensions(t *testing.T) {
	src := NewMockSource(0, 0, 0)
	if err := src.Open(); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer src.Close()

	frame, err := src.Read()
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if frame.Width <= 0 || frame.Height <= 0 {
		t.Errorf("frame dimensions = %dx%d, want positive", frame.Width, frame.Height)
	}
}

// TestMockSourceEndsAtLimit checks the stream reports end-of-stream
// once the configured frame count is reached.
func TestMockSourceEndsAtLimit(t *testing.T) {
	src := NewMockSource(32, 32, 120)
	src.Limit = 2
	if err := src.Open(); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer src.Close()

	for i := 0; i < 2; i++ {
		if _, err := src.Read(); err != nil {
			t.Fatalf("Read() %d failed: %v", i, err)
		}
	}
	if _, err := src.Read(); !errors.Is(err, io.EOF) {
		t.Errorf("Read() past limit = %v, want io.EOF", err)
	}
}
