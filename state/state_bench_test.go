package state

import (
	"fmt"
	"testing"
)

// BenchmarkMemoryTracker_MarkProcessed benchmarks the tracker write path
func BenchmarkMemoryTracker_MarkProcessed(b *testing.B) {
	tracker := NewMemoryTracker()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("ttrss-1-%d", i)
		if err := tracker.MarkProcessed(key); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkMemoryTracker_AlreadyProcessed benchmarks lookup performance
func BenchmarkMemoryTracker_AlreadyProcessed(b *testing.B) {
	tracker := NewMemoryTracker()

	// Pre-populate with 1000 entries
	for i := 0; i < 1000; i++ {
		key := fmt.Sprintf("ttrss-1-%d", i)
		if err := tracker.MarkProcessed(key); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tracker.AlreadyProcessed(fmt.Sprintf("ttrss-1-%d", i%1000))
	}
}

// BenchmarkMemoryTracker_Concurrent benchmarks parallel access
func BenchmarkMemoryTracker_Concurrent(b *testing.B) {
	tracker := NewMemoryTracker()

	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			key := fmt.Sprintf("ttrss-1-%d", i)
			if i%2 == 0 {
				_ = tracker.MarkProcessed(key)
			} else {
				tracker.AlreadyProcessed(key)
			}
			i++
		}
	})
}
