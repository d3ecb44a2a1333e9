package config

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	resetForTest(t)

	path := writeConfig(t, singletonConfig)

	w, err := NewWatcher(path, 20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 4)
	go func() {
		_ = w.Watch(ctx, func(cfg *Config) error {
			reloaded <- cfg
			return nil
		})
	}()

	// Give the watcher time to register the directory
	time.Sleep(50 * time.Millisecond)

	updated := `
keys:
  - id: a
    credential: "x"
  - id: b
    credential: "y"
`
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		if len(cfg.Keys) != 2 {
			t.Errorf("expected 2 keys, got %d", len(cfg.Keys))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	if err := w.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestWatcher_InvalidConfigIsNotDelivered(t *testing.T) {
	resetForTest(t)

	path := writeConfig(t, singletonConfig)

	w, err := NewWatcher(path, 20*time.Millisecond, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = w.Stop() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	go func() {
		_ = w.Watch(ctx, func(*Config) error {
			calls.Add(1)
			return nil
		})
	}()
	time.Sleep(50 * time.Millisecond)

	if err := os.WriteFile(path, []byte("keys: []\n"), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)

	if calls.Load() != 0 {
		t.Errorf("expected no reload callbacks, got %d", calls.Load())
	}
}

func TestDebouncer_CoalescesEvents(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)
	defer d.Stop()

	var count atomic.Int32
	for i := 0; i < 10; i++ {
		d.Trigger(func() { count.Add(1) })
	}

	time.Sleep(100 * time.Millisecond)

	if got := count.Load(); got != 1 {
		t.Errorf("expected 1 callback, got %d", got)
	}
}

func TestDebouncer_StopCancelsPending(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)

	var count atomic.Int32
	d.Trigger(func() { count.Add(1) })
	d.Stop()
	d.Trigger(func() { count.Add(1) })

	time.Sleep(80 * time.Millisecond)

	if got := count.Load(); got != 0 {
		t.Errorf("expected no callbacks after Stop, got %d", got)
	}
}
