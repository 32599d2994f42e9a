package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLocalSerialisesOverlappingKeys(t *testing.T) {
	l := NewLocal()
	unlock, err := l.Lock(context.Background(), "prod-b", "prod-a")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "prod-a"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy while held, got %v", err)
	}

	unlock()
	unlock()

	again, err := l.Lock(context.Background(), "prod-a")
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	again()
	if len(l.entries) != 0 {
		t.Fatalf("expected entries to be cleaned up, got %d", len(l.entries))
	}
}

func TestLocalCounterUnderContention(t *testing.T) {
	l := NewLocal()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "shared", "other")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			counter++
			unlock()
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Fatalf("expected 50 increments, got %d", counter)
	}
}

func TestNormalizeSortsAndDedupes(t *testing.T) {
	got := normalize([]string{"b", "", "a", "b"})
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected keys %v", got)
	}
}
