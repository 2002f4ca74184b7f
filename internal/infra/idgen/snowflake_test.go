package idgen

import (
	"strings"
	"sync"
	"testing"
)

func TestSnowflakeUnique(t *testing.T) {
	gen, err := NewSnowflake(7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]struct{})
		wg   sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				no := gen.NextTransactionNo()
				mu.Lock()
				seen[no] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 1600 {
		t.Fatalf("expected 1600 unique numbers, got %d", len(seen))
	}
	for no := range seen {
		if !strings.HasPrefix(no, "TXN_") {
			t.Fatalf("unexpected format %q", no)
		}
		break
	}
}

func TestSnowflakeRejectsBadNode(t *testing.T) {
	if _, err := NewSnowflake(4096); err == nil {
		t.Fatal("expected error for out of range node")
	}
}
