package keyed

import (
	"sync"
	"sync/atomic"
	"testing"
)

type counter struct {
	mu sync.Mutex
	n  int
}

func TestGetOrCreateOnce(t *testing.T) {
	m := New[string, counter]()
	var created atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := m.GetOrCreate("k", func() *counter {
				created.Add(1)
				return &counter{}
			})
			c.mu.Lock()
			c.n++
			c.mu.Unlock()
		}()
	}
	wg.Wait()

	if n := created.Load(); n != 1 {
		t.Errorf("expected 1 creation, got %d", n)
	}
	c, ok := m.Get("k")
	if !ok {
		t.Fatal("expected entry")
	}
	if c.n != 50 {
		t.Errorf("expected 50 increments, got %d", c.n)
	}
}

func TestDeleteIf(t *testing.T) {
	m := New[string, counter]()
	m.Put("a", &counter{n: 1})
	m.Put("b", &counter{n: 2})

	if m.DeleteIf("a", func(c *counter) bool { return c.n > 1 }) {
		t.Error("did not expect a to be deleted")
	}
	if !m.DeleteIf("b", func(c *counter) bool { return c.n > 1 }) {
		t.Error("expected b to be deleted")
	}
	if m.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", m.Len())
	}
	if m.Delete("missing") {
		t.Error("expected Delete of missing key to return false")
	}
}
