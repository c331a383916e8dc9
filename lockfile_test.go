package gitgw

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLockfileSingleWriter(t *testing.T) {
	dir := t.TempDir()
	m := NewLockfileManager()
	defer m.Clear()

	var writerCount int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := m.NewLockfile(dir)
			if err := l.Lock(); err != nil {
				t.Errorf("Failed to lock repository for writing: %v", err)
				return
			}
			// Try to make the other goroutines execute.
			time.Sleep(time.Millisecond)
			if new := atomic.AddInt32(&writerCount, 1); new != 1 {
				t.Errorf("More than one concurrent writer!")
			}
			defer atomic.AddInt32(&writerCount, -1)
			defer l.Unlock()
		}()
	}

	wg.Wait()
}

func TestLockfileReLock(t *testing.T) {
	dir := t.TempDir()
	m := NewLockfileManager()
	defer m.Clear()

	l := m.NewLockfile(dir)
	if err := l.Lock(); err != nil {
		t.Fatalf("Failed to lock: %v", err)
	}
	if err := l.Lock(); err != nil {
		t.Fatalf("Failed to re-lock: %v", err)
	}
	if err := l.Unlock(); err != nil {
		t.Fatalf("Failed to unlock: %v", err)
	}
	if err := l.Unlock(); err != nil {
		t.Fatalf("Second Unlock must be a no-op: %v", err)
	}
}

func TestLockfileDescriptorReuse(t *testing.T) {
	dir := t.TempDir()
	m := NewLockfileManager()
	defer m.Clear()

	l := m.NewLockfile(dir)
	if err := l.Lock(); err != nil {
		t.Fatalf("Failed to lock: %v", err)
	}
	if err := l.Unlock(); err != nil {
		t.Fatalf("Failed to unlock: %v", err)
	}
	if len(m.fds) != 1 {
		t.Fatalf("expected the released descriptor to be cached, got %d", len(m.fds))
	}

	// A second lock on the same path takes the cached descriptor instead
	// of opening a new one.
	l2 := m.NewLockfile(dir)
	if err := l2.Lock(); err != nil {
		t.Fatalf("Failed to re-lock: %v", err)
	}
	if len(m.fds) != 0 {
		t.Errorf("expected the cached descriptor to be taken, got %d", len(m.fds))
	}
	if err := l2.Unlock(); err != nil {
		t.Fatalf("Failed to unlock: %v", err)
	}
}

func TestLockfileManagerClear(t *testing.T) {
	m := NewLockfileManager()

	for i := 0; i < 4; i++ {
		l := m.NewLockfile(t.TempDir())
		if err := l.Lock(); err != nil {
			t.Fatalf("Failed to lock: %v", err)
		}
		if err := l.Unlock(); err != nil {
			t.Fatalf("Failed to unlock: %v", err)
		}
	}
	if len(m.fds) != 4 {
		t.Fatalf("expected 4 cached descriptors, got %d", len(m.fds))
	}

	m.Clear()
	if len(m.fds) != 0 || len(m.lru) != 0 {
		t.Errorf("expected Clear to drop the cache, got %d/%d", len(m.fds), len(m.lru))
	}
}
