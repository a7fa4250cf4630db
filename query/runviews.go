package query

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// RunViews drives one goroutine per view, each repeatedly calling work until
// work returns false, stopping the whole group at the first error any view
// reports (golang.org/x/sync/errgroup's structured cancellation takes the
// place of the teacher's raw sync.WaitGroup fan-out here, since unlike a
// parallel sort a failed query is something callers need to observe rather
// than ignore). Each view keeps its own file descriptor and submission queue
// (spec §4.10), so this is safe to call with one *View per worker thread
// sharing a single immutable RetrievalEngine.
func RunViews(views []*View, work func(v *View) (more bool, err error)) error {
	g, ctx := errgroup.WithContext(context.Background())
	for _, v := range views {
		v := v
		g.Go(func() error {
			for {
				if ctx.Err() != nil {
					return nil
				}
				more, err := work(v)
				if err != nil {
					return err
				}
				if !more {
					return nil
				}
			}
		})
	}
	return g.Wait()
}
