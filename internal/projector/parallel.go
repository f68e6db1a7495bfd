package projector

import (
	"sync"

	"github.com/hmalva/petproj/internal/geom"
	"github.com/hmalva/petproj/internal/tof"
)

// minChunk keeps goroutine overhead below the per-LOR work for tiny lists.
const minChunk = 64

// BackProject runs the traversal kernel over every LOR in events,
// accumulating into acc. One logical lane per LOR, grouped into workers;
// lanes only share the accumulator, which they mutate atomically.
func BackProject(g geom.Grid, acc *Accumulator, events *geom.Events, p tof.Params, workers int) {
	n := events.Len()
	if workers < 1 {
		workers = 1
	}
	if n <= minChunk || workers == 1 {
		projectRange(g, acc, events, p, 0, n)
		return
	}

	if n/minChunk < workers {
		workers = n / minChunk
	}
	chunk := (n + workers - 1) / workers

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		go func(lo, hi int) {
			defer wg.Done()
			projectRange(g, acc, events, p, lo, hi)
		}(lo, hi)
	}
	wg.Wait()
}

func projectRange(g geom.Grid, acc *Accumulator, e *geom.Events, p tof.Params, lo, hi int) {
	for i := lo; i < hi; i++ {
		backProjectLOR(g, acc, e.StartPoint(i), e.EndPoint(i),
			e.Values[i], p, e.SigmaTOF[i], e.CenterOffset[i], e.Bins[i])
	}
}
