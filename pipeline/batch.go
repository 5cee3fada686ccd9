package pipeline

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// CompileAll compiles reqs concurrently on at most workers goroutines.
// Requests naming a method already in the batch are skipped. Results are
// returned in request order, one per distinct method; every failure is
// collected into the returned error, and cancelling ctx stops the
// compilations that have not started.
func CompileAll(ctx context.Context, c *Compiler, reqs []*Request, workers int) ([]*Result, error) {
	seen := make(map[string]bool, len(reqs))
	var distinct []*Request
	for _, req := range reqs {
		if seen[req.Key()] {
			continue
		}
		seen[req.Key()] = true
		distinct = append(distinct, req)
	}

	results := make([]*Result, len(distinct))
	errs := make([]error, len(distinct))

	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, req := range distinct {
		g.Go(func() error {
			// Compilation errors are per method; only cancellation of the
			// caller's context ends the group.
			results[i], errs[i] = c.Compile(gctx, req)
			return ctx.Err()
		})
	}
	groupErr := g.Wait()

	var result *multierror.Error
	for _, err := range errs {
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	if groupErr != nil {
		result = multierror.Append(result, groupErr)
	}
	return results, result.ErrorOrNil()
}
