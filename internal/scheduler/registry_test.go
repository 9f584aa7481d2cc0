package scheduler

import (
	"fmt"
	"sync"
	"testing"
)

func TestRegistryCountTracksReplaceAndRemove(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	w1, w2 := &Worker{}, &Worker{}

	r.Add("a", w1)
	r.Add("a", w2)
	r.Add("b", w1)
	if r.Len() != 2 {
		t.Fatalf("Len = %d, want 2", r.Len())
	}
	if r.CompareAndRemove("a", w1) {
		t.Fatal("CompareAndRemove removed a replaced worker")
	}
	if !r.CompareAndRemove("a", w2) {
		t.Fatal("CompareAndRemove failed on current worker")
	}
	if _, ok := r.Remove("b"); !ok {
		t.Fatal("Remove(b) = false")
	}
	if _, ok := r.Remove("b"); ok {
		t.Fatal("second Remove(b) = true")
	}
	if r.Len() != 0 {
		t.Fatalf("Len = %d, want 0", r.Len())
	}
}

func TestRegistryRangeDuringMutation(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	for i := 0; i < 100; i++ {
		r.Add(fmt.Sprintf("w%03d", i), &Worker{})
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 100; i < 200; i++ {
			r.Add(fmt.Sprintf("w%03d", i), &Worker{})
			r.Remove(fmt.Sprintf("w%03d", i-100))
		}
	}()

	seen := map[string]int{}
	r.Range(func(name string, _ *Worker) bool {
		seen[name]++
		return true
	})
	wg.Wait()

	for name, n := range seen {
		if n != 1 {
			t.Fatalf("%s visited %d times", name, n)
		}
	}
	if r.Len() != 100 {
		t.Fatalf("Len = %d, want 100", r.Len())
	}
}

func TestRegistryNamesSorted(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	for _, n := range []string{"c", "a", "b"} {
		r.Add(n, &Worker{})
	}
	got := r.Names()
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Names = %v, want %v", got, want)
		}
	}
}
