package actions

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
)

// Task is one independent unit of concurrent work. It receives the context
// shared by its siblings, which is cancelled if any sibling panics.
type Task[T any] func(ctx context.Context) (T, error)

// Outcome is the result of one Task, keyed by its origin index.
type Outcome[T any] struct {
	Index int
	Value T
	Err   error
}

type taskResult[T any] struct {
	outcome Outcome[T]
	panic   *JoinError
}

// RunConcurrently runs every task on its own goroutine and waits for all of
// them. Outcomes are returned in origin order regardless of completion order.
//
// If a task panics, the context passed to its siblings is cancelled, the
// remaining tasks are allowed to settle and their outcomes are still
// returned alongside a *JoinError for the first panic observed.
func RunConcurrently[T any](ctx context.Context, tasks []Task[T]) ([]Outcome[T], error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan taskResult[T], len(tasks))
	var wg sync.WaitGroup

	for i, task := range tasks {
		wg.Add(1)
		go func(idx int, task Task[T]) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					cancel()
					results <- taskResult[T]{
						outcome: Outcome[T]{Index: idx},
						panic: &JoinError{
							Index: idx,
							Panic: fmt.Sprint(r),
							Stack: string(debug.Stack()),
						},
					}
				}
			}()

			value, err := task(ctx)
			results <- taskResult[T]{outcome: Outcome[T]{Index: idx, Value: value, Err: err}}
		}(i, task)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	outcomes := make([]Outcome[T], len(tasks))
	var joinErr *JoinError
	for res := range results {
		if res.panic != nil {
			if joinErr == nil {
				joinErr = res.panic
			}
			outcomes[res.outcome.Index] = Outcome[T]{Index: res.outcome.Index, Err: res.panic}
			continue
		}
		outcomes[res.outcome.Index] = res.outcome
	}

	if joinErr != nil {
		return outcomes, joinErr
	}
	return outcomes, nil
}

// Errors returns the non-nil errors of outcomes in origin order.
func Errors[T any](outcomes []Outcome[T]) []error {
	var errs []error
	for _, o := range outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errs
}
