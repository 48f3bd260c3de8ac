// Package testsupport holds the small race-harness helpers the stack
// and indexpool concurrency tests would otherwise each reimplement with
// their own sync.WaitGroup fan-out.
package testsupport

import "sync"

// Concurrently runs n goroutines, each invoking fn with its own index,
// and blocks until all of them return.
func Concurrently(n int, fn func(worker int)) {
	var wg sync.WaitGroup

	wg.Add(n)

	for i := 0; i < n; i++ {
		go func(worker int) {
			defer wg.Done()

			fn(worker)
		}(i)
	}

	wg.Wait()
}
