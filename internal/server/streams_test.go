package server

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestStreamManager_OpenClose(t *testing.T) {
	t.Parallel()

	m := NewStreamManager(2)
	a, err := m.Open("10.0.0.1:5000")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(a.ID) != 36 {
		t.Errorf("stream ID %q is not a UUID", a.ID)
	}
	b, err := m.Open("10.0.0.2:5000")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if a.ID == b.ID {
		t.Error("stream IDs are not unique")
	}

	if _, err := m.Open("10.0.0.3:5000"); !errors.Is(err, ErrTooManyStreams) {
		t.Fatalf("third Open err = %v, want ErrTooManyStreams", err)
	}

	m.Close(a.ID)
	if m.Count() != 1 {
		t.Errorf("Count() = %d, want 1", m.Count())
	}
	if _, ok := m.Info(a.ID); ok {
		t.Error("closed stream still reported")
	}
	if info, ok := m.Info(b.ID); !ok || info.RemoteAddr != "10.0.0.2:5000" {
		t.Errorf("Info(b) = %+v, %v", info, ok)
	}

	if _, err := m.Open("10.0.0.3:5000"); err != nil {
		t.Errorf("Open after Close: %v", err)
	}
}

func TestStreamManager_CloseUnknownIsNoop(t *testing.T) {
	t.Parallel()

	m := NewStreamManager(1)
	m.Close("does-not-exist")
	if _, err := m.Open("x"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	// A double close must not free a second slot.
	m.Close("does-not-exist")
	if _, err := m.Open("y"); !errors.Is(err, ErrTooManyStreams) {
		t.Errorf("err = %v, want ErrTooManyStreams", err)
	}
}

func TestStreamManager_ActiveOldestFirst(t *testing.T) {
	t.Parallel()

	m := NewStreamManager(3)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	m.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	for _, addr := range []string{"a", "b", "c"} {
		if _, err := m.Open(addr); err != nil {
			t.Fatalf("Open(%s): %v", addr, err)
		}
	}

	active := m.Active()
	if len(active) != 3 {
		t.Fatalf("Active() len = %d, want 3", len(active))
	}
	for i, want := range []string{"a", "b", "c"} {
		if active[i].RemoteAddr != want {
			t.Errorf("Active()[%d] = %q, want %q", i, active[i].RemoteAddr, want)
		}
	}
}

func TestStreamManager_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	m := NewStreamManager(4)
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				info, err := m.Open("peer")
				if err != nil {
					continue
				}
				_ = m.Count()
				_ = m.Active()
				m.Close(info.ID)
			}
		}()
	}
	wg.Wait()

	if m.Count() != 0 {
		t.Errorf("Count() = %d after all streams closed, want 0", m.Count())
	}
	if m.Max() != 4 {
		t.Errorf("Max() = %d, want 4", m.Max())
	}
}
