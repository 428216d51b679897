package services

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCategoryLocks_SerializesPerKey(t *testing.T) {
	locks := NewCategoryLocks()

	release, err := locks.Acquire("cat1", time.Second)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	// A different key is independent.
	r2, err := locks.Acquire("cat2", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("other key should not block: %v", err)
	}
	r2()

	// The same key times out while held.
	if _, err := locks.Acquire("cat1", 50*time.Millisecond); !errors.Is(err, ErrContention) {
		t.Fatalf("expected ErrContention, got %v", err)
	}

	release()
	r3, err := locks.Acquire("cat1", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	r3()
}

func TestCategoryLocks_ManyWaitersAllProceed(t *testing.T) {
	locks := NewCategoryLocks()

	var mu sync.Mutex
	inside := 0
	maxInside := 0

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locks.Acquire("cat1", 5*time.Second)
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Fatalf("critical section overlapped: max concurrency %d", maxInside)
	}
}
