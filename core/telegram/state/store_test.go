package state

import (
	"sync"
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestStoreExpiresLazily(t *testing.T) {
	c := &clock{t: time.Unix(1000, 0)}
	s := NewStore[string](30*time.Minute, c.now)
	s.Put(1, "a")

	c.advance(29 * time.Minute)
	if v, st := s.Get(1); st != Live || v != "a" {
		t.Fatalf("get = %q, %v", v, st)
	}
	s.Put(1, "b")
	c.advance(31 * time.Minute)
	if s.Has(1) {
		t.Fatal("expired value reported live")
	}
	if !s.Contains(1) {
		t.Fatal("unswept expired value not contained")
	}
	if _, st := s.Get(1); st != Expired {
		t.Fatalf("state = %v, want Expired", st)
	}
	if _, st := s.Get(1); st != Missing {
		t.Fatalf("second get = %v, want Missing", st)
	}
	if s.Contains(1) {
		t.Fatal("value still contained after expiry was reported")
	}
}

func TestStoreSweep(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	s := NewStore[int](time.Minute, c.now)
	var expired []int
	s.OnExpire(func(_ int64, v int) { expired = append(expired, v) })
	s.Put(1, 1)
	c.advance(2 * time.Minute)
	s.Put(2, 2)
	if n := s.Sweep(); n != 1 {
		t.Fatalf("swept %d", n)
	}
	if len(expired) != 1 || expired[0] != 1 {
		t.Fatalf("expired = %v", expired)
	}
	if s.Len() != 1 || !s.Has(2) {
		t.Fatalf("len = %d", s.Len())
	}
	if s.Delete(1) {
		t.Fatal("deleted a swept value")
	}
	if !s.Delete(2) {
		t.Fatal("delete of live value reported false")
	}
}

func TestStoreLockSerializes(t *testing.T) {
	s := NewStore[int](0, nil)
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := s.Lock(7)
			defer unlock()
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Fatalf("counter = %d", counter)
	}
}
