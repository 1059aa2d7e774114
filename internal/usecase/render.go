package usecase

import (
	"context"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"schema-mapper/internal/domain"
	"schema-mapper/internal/workbook"
)

// renderSheets renders every sheet on a pool of at most workers goroutines
// (GOMAXPROCS when workers <= 0) and joins the results in input order once
// all of them are done.
func renderSheets(ctx context.Context, sheets []domain.Sheet, workers int) (string, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	rendered := make([]string, len(sheets))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, sheet := range sheets {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rendered[i] = workbook.RenderSheet(sheet)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	return strings.Join(rendered, ""), nil
}
