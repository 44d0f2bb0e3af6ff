// Package testutil holds helpers shared by race and integration tests.
package testutil

import (
	"errors"
	"sync"

	"once/pkg/platform/sentinel"
)

// ConcurrentResult tallies the outcomes of one race.
type ConcurrentResult struct {
	Successes int32
	Errors    int32
	Conflicts int32
	NotFounds int32
	// Winners lists the indices whose call returned nil, in no particular order.
	Winners []int
}

// Total returns the number of calls made.
func (r *ConcurrentResult) Total() int32 {
	return r.Successes + r.Errors + r.Conflicts + r.NotFounds
}

// RunConcurrent starts n goroutines, releases them together and buckets their
// errors by sentinel: not found, conflict or anything else.
func RunConcurrent(n int, fn func(idx int) error) *ConcurrentResult {
	errs := race(n, fn)

	res := &ConcurrentResult{}
	for idx, err := range errs {
		switch {
		case err == nil:
			res.Successes++
			res.Winners = append(res.Winners, idx)
		case errors.Is(err, sentinel.ErrNotFound):
			res.NotFounds++
		case errors.Is(err, sentinel.ErrConflict):
			res.Conflicts++
		default:
			res.Errors++
		}
	}
	return res
}

// race returns the error of each call at its index.
func race(n int, fn func(idx int) error) []error {
	errs := make([]error, n)
	start := make(chan struct{})

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs[i] = fn(i)
		}()
	}

	close(start)
	wg.Wait()
	return errs
}
