package runner

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/county-risk/risk-engine/internal/model"
	"github.com/county-risk/risk-engine/internal/store"
)

// LoadSnapshot reads every source row for one county-year. The six reads run
// concurrently; any read error fails the whole snapshot.
func LoadSnapshot(ctx context.Context, src store.SourceReader, countyCode string, year int) (*model.Snapshot, error) {
	snap := &model.Snapshot{CountyCode: countyCode, Year: year}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		snap.Economic, err = src.FindEconomic(gctx, countyCode, year)
		return eris.Wrap(err, "runner: load economic row")
	})
	g.Go(func() (err error) {
		snap.Population, err = src.FindPopulation(gctx, countyCode, year)
		return eris.Wrap(err, "runner: load population row")
	})
	g.Go(func() (err error) {
		snap.Environment, err = src.FindEnvironment(gctx, countyCode, year)
		return eris.Wrap(err, "runner: load environment row")
	})
	g.Go(func() (err error) {
		snap.Fiscal, err = src.FindFiscal(gctx, countyCode, year)
		return eris.Wrap(err, "runner: load fiscal row")
	})
	g.Go(func() (err error) {
		snap.Investment, err = src.FindInvestment(gctx, countyCode, year)
		return eris.Wrap(err, "runner: load investment row")
	})
	g.Go(func() (err error) {
		snap.EducationHealth, err = src.FindEducationHealth(gctx, countyCode, year)
		return eris.Wrap(err, "runner: load education/health row")
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snap, nil
}
