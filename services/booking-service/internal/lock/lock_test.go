package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/model"
)

func TestAcquireTimesOut(t *testing.T) {
	m := NewManager(50 * time.Millisecond)
	release, err := m.Acquire(context.Background(), []string{"r1", "s1"})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	start := time.Now()
	_, err = m.Acquire(context.Background(), []string{"s1"})
	if !errors.Is(err, model.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("acquire should be bounded by the timeout")
	}

	other, err := m.Acquire(context.Background(), []string{"r2"})
	if err != nil {
		t.Fatalf("unrelated resource should be free: %v", err)
	}
	other()
}

func TestAcquireHonoursCancel(t *testing.T) {
	m := NewManager(time.Second)
	release, err := m.Acquire(context.Background(), []string{"r1"})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Acquire(ctx, []string{"r1"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFailedAcquireReleasesPartialLocks(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	holdB, err := m.Acquire(context.Background(), []string{"b"})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := m.Acquire(context.Background(), []string{"b", "a"}); !errors.Is(err, model.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	holdB()

	release, err := m.Acquire(context.Background(), []string{"a"})
	if err != nil {
		t.Fatalf("a should have been released: %v", err)
	}
	release()
	release()
}

func TestOpposingOrdersDoNotDeadlock(t *testing.T) {
	m := NewManager(2 * time.Second)
	var inside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		ids := []string{"x", "y"}
		if i%2 == 1 {
			ids = []string{"y", "x", "y"}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := m.Acquire(context.Background(), ids)
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			if inside.Add(1) != 1 {
				t.Error("two holders inside the critical section")
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			release()
		}()
	}
	wg.Wait()
}
