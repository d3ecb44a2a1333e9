package cli

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
)

func TestSimpleProgress(t *testing.T) {
	var buf bytes.Buffer
	progress := NewProgressReporter(&buf, "Selecting")

	progress.Start(100)
	progress.Update(50)
	progress.Finish()

	out := buf.String()
	for _, want := range []string{"Selecting:", "50.0%", "(100/100)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
	if !strings.HasSuffix(out, "\n") {
		t.Error("Finish() should end the line")
	}
}

func TestSimpleProgressClamps(t *testing.T) {
	var buf bytes.Buffer
	progress := NewProgressReporter(&buf, "").(*SimpleProgress)

	progress.Start(10)
	progress.Update(25)
	if progress.current != 10 {
		t.Errorf("current = %d, want 10", progress.current)
	}
	if !strings.Contains(buf.String(), "Progress:") {
		t.Error("empty label should default to Progress")
	}
}

func TestSimpleProgressZeroTotal(t *testing.T) {
	var buf bytes.Buffer
	progress := NewProgressReporter(&buf, "x")

	progress.Start(0)
	progress.Update(0)
	progress.Finish()

	if buf.String() != "\n" {
		t.Errorf("output = %q, want only the final newline", buf.String())
	}
}

func TestSimpleProgressError(t *testing.T) {
	var buf bytes.Buffer
	progress := NewProgressReporter(&buf, "x")

	progress.Start(100)
	progress.Error(errors.New("all keys exhausted"))

	if !strings.Contains(buf.String(), "Error: all keys exhausted") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestSimpleProgressConcurrent(t *testing.T) {
	var buf bytes.Buffer
	progress := NewProgressReporter(&buf, "x")
	progress.Start(1000)

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func(start int64) {
			defer wg.Done()
			for j := range int64(100) {
				progress.Update(start*100 + j)
			}
		}(int64(i))
	}
	wg.Wait()
	progress.Finish()

	if buf.Len() == 0 {
		t.Error("expected progress output")
	}
}
