package parallel

import (
	"context"
	"iter"

	"golang.org/x/sync/errgroup"
)

type result[D any] struct {
	d D
	e error
}

// Map runs mapFunc over the input with at most limit calls in flight and
// yields the results in the order they finish, not in the input order.
//
//	for result, err := range parallel.NewMap(ctx, 4, f).Iter(input) {}
//
// Every input element is mapped and yielded, even after ctx ends:
// mapFunc sees the canceled context and decides what its result is.
// Only a consumer leaving the loop stops the iteration early.
//
// A Map is meant to be iterated once.
type Map[E, D any] struct {
	ctx     context.Context
	cancel  context.CancelFunc
	limit   int
	mapFunc func(context.Context, E) (D, error)
}

func NewMap[E, D any](parentCtx context.Context, limit int, mapFunc func(context.Context, E) (D, error)) *Map[E, D] {
	if limit < 1 {
		limit = 1
	}
	ctx, cancel := context.WithCancel(parentCtx)
	return &Map[E, D]{
		ctx:     ctx,
		cancel:  cancel,
		limit:   limit,
		mapFunc: mapFunc,
	}
}

func (m *Map[E, D]) goWorkers(g *errgroup.Group, seq iter.Seq[E], mapped chan<- result[D], stop <-chan struct{}) {
	g.Go(func() error {
		for entry := range seq {
			select {
			case <-stop:
				return nil
			default:
			}
			g.Go(func() error {
				d, err := m.mapFunc(m.ctx, entry)
				select {
				case <-stop:
				case mapped <- result[D]{d: d, e: err}:
				}
				return nil
			})
		}
		return nil
	})
}

func (m *Map[E, D]) Iter(seq iter.Seq[E]) iter.Seq2[D, error] {
	return func(yield func(D, error) bool) {
		stop := make(chan struct{})
		defer func() {
			close(stop)
			m.cancel()
		}()

		// errors are yielded, never returned, so a plain group is enough
		var g errgroup.Group
		// one extra slot for the feeding goroutine
		g.SetLimit(m.limit + 1)
		mapped := make(chan result[D], m.limit)
		m.goWorkers(&g, seq, mapped, stop)

		go func() {
			_ = g.Wait()
			close(mapped)
		}()

		for r := range mapped {
			if !yield(r.d, r.e) {
				return
			}
		}
	}
}
