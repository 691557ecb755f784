// Package parallel contains a bounded ForEach and CPU-aware worker sizing.
package parallel

import "sync"

// ForEach calls body for every index in [0, length) using at most limit
// goroutines. It returns once all calls have finished. A limit of one or
// less runs the loop on the calling goroutine.
func ForEach(length, limit int, body func(i int)) {
	if length <= 0 {
		return
	}
	if limit <= 1 || length == 1 {
		for i := 0; i < length; i++ {
			body(i)
		}
		return
	}
	if limit > length {
		limit = length
	}

	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	wg.Add(length)

	for i := 0; i < length; i++ {
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			body(i)
		}(i)
	}

	wg.Wait()
}

// ForEachError is ForEach for bodies that can fail. All indices are visited;
// the error of the lowest failing index is returned.
func ForEachError(length, limit int, body func(i int) error) error {
	if length <= 0 {
		return nil
	}
	errs := make([]error, length)
	ForEach(length, limit, func(i int) {
		errs[i] = body(i)
	})
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
