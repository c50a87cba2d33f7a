package imagery

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultSettleLimit caps concurrent tasks when no limit is given.
const DefaultSettleLimit = 4

// Outcome is the settled result of one task: exactly one of Value or Err is
// meaningful.
type Outcome[T any] struct {
	Value T
	Err   error
}

// OK reports whether the task succeeded.
func (o Outcome[T]) OK() bool { return o.Err == nil }

// Task is a named unit of work for SettleAll.
type Task[T any] struct {
	Name string
	Run  func(ctx context.Context) (T, error)
}

// SettleAll runs every task with at most limit in flight and waits for all of
// them. A failing task never cancels or blocks its siblings; its error is
// recorded under its name. Panics are recovered into errors. Task names must
// be unique.
func SettleAll[T any](ctx context.Context, limit int, tasks []Task[T]) map[string]Outcome[T] {
	if limit <= 0 {
		limit = DefaultSettleLimit
	}

	var mu sync.Mutex
	results := make(map[string]Outcome[T], len(tasks))

	g := new(errgroup.Group)
	g.SetLimit(limit)

	for _, task := range tasks {
		g.Go(func() (err error) {
			var out Outcome[T]
			defer func() {
				if r := recover(); r != nil {
					out = Outcome[T]{Err: fmt.Errorf("task %s panicked: %v", task.Name, r)}
				}
				mu.Lock()
				results[task.Name] = out
				mu.Unlock()
			}()

			if ctxErr := ctx.Err(); ctxErr != nil {
				out.Err = ctxErr
				return nil
			}
			out.Value, out.Err = task.Run(ctx)
			// Never propagate: siblings must keep running.
			return nil
		})
	}

	_ = g.Wait()
	return results
}
