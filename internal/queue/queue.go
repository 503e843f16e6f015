// Package queue runs a batch of keyword tasks with a fixed concurrency cap.
// The cap matches the browser pool size: tasks are I/O-bound, but the
// browser contexts they borrow are the scarce resource, so parallelism is
// bounded by pool slots rather than CPU.
package queue

import (
	"context"
	"fmt"
	"sync"
)

// Task is one unit of work keyed for the result map.
type Task[T any] struct {
	Key string
	Do  func(ctx context.Context) (T, error)
}

// Result carries a task's value or its failure. Exactly one Result per
// submitted task ends up in the map Run returns.
type Result[T any] struct {
	Value T
	Err   error
}

// Run executes tasks with at most limit workers and returns once every
// started task has finished (there is no separate onIdle: returning is the
// idle signal). One task failing — error or panic — never aborts its
// siblings; the failure is recorded in that task's Result and the batch
// continues. Cancelling ctx stops dequeuing new tasks while in-flight ones
// drain; undequeued tasks are recorded with ctx's error.
func Run[T any](ctx context.Context, limit int, tasks []Task[T]) map[string]Result[T] {
	if limit <= 0 {
		limit = 1
	}

	results := make(map[string]Result[T], len(tasks))
	var mu sync.Mutex
	var wg sync.WaitGroup

	work := make(chan Task[T])

	for i := 0; i < limit; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range work {
				value, err := runOne(ctx, task)
				mu.Lock()
				results[task.Key] = Result[T]{Value: value, Err: err}
				mu.Unlock()
			}
		}()
	}

	markRemaining := func() {
		mu.Lock()
		defer mu.Unlock()
		for _, task := range tasks {
			if _, done := results[task.Key]; !done {
				// In-flight tasks overwrite this when they drain.
				results[task.Key] = Result[T]{Err: ctx.Err()}
			}
		}
	}

dispatch:
	for _, task := range tasks {
		if ctx.Err() != nil {
			markRemaining()
			break
		}
		select {
		case work <- task:
		case <-ctx.Done():
			markRemaining()
			break dispatch
		}
	}
	close(work)
	wg.Wait()

	return results
}

func runOne[T any](ctx context.Context, task Task[T]) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queue: task %s panicked: %v", task.Key, r)
		}
	}()
	return task.Do(ctx)
}
