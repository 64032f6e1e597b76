package aggregate

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trinetra-eo/cogcatalog/internal/model"
)

func at(y int, m time.Month, d, h int) int64 {
	return time.Date(y, m, d, h, 0, 0, 0, time.UTC).UnixMilli()
}

func boxCog(sat string, west, south, east, north float64, ts int64) model.Cog {
	return model.Cog{
		SatelliteID:        sat,
		AquisitionDatetime: ts,
		CornerCoords: &model.CornerCoords{
			UpperLeft:  model.Coord{west, north},
			UpperRight: model.Coord{east, north},
			LowerLeft:  model.Coord{west, south},
			LowerRight: model.Coord{east, south},
		},
	}
}

func TestPercentChange(t *testing.T) {
	assert.Equal(t, 0.0, PercentChange(0, 0))
	assert.Equal(t, 100.0, PercentChange(0, 5))
	assert.Equal(t, -50.0, PercentChange(10, 5))
	assert.Equal(t, 33.33, PercentChange(3, 4))
}

func TestParseInterval(t *testing.T) {
	i, err := ParseInterval("")
	require.NoError(t, err)
	assert.Equal(t, Daily, i)

	i, err = ParseInterval("Weekly")
	require.NoError(t, err)
	assert.Equal(t, Weekly, i)

	_, err = ParseInterval("yearly")
	assert.Error(t, err)
}

func TestIntervalTruncate(t *testing.T) {
	// Thursday 2025-04-03 06:45 UTC
	ts := time.Date(2025, 4, 3, 6, 45, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 4, 3, 6, 0, 0, 0, time.UTC), Hourly.Truncate(ts))
	assert.Equal(t, time.Date(2025, 4, 3, 0, 0, 0, 0, time.UTC), Daily.Truncate(ts))
	assert.Equal(t, time.Date(2025, 3, 30, 0, 0, 0, 0, time.UTC), Weekly.Truncate(ts), "weeks start on Sunday")
	assert.Equal(t, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), Monthly.Truncate(ts))
}

func TestTimeSeries(t *testing.T) {
	cogs := []model.Cog{
		{Product: "p1", ProductCode: "HMK", Type: "VIS", AquisitionDatetime: at(2025, 4, 3, 1)},
		{Product: "p1", ProductCode: "HMK", Type: "VIS", AquisitionDatetime: at(2025, 4, 3, 5)},
		{Product: "p2", ProductCode: "IMG_MIR", Type: "MIR", AquisitionDatetime: at(2025, 4, 3, 7)},
		{Product: "p1", ProductCode: "HMK", Type: model.MultiType, AquisitionDatetime: at(2025, 4, 1, 0),
			Bands: []model.Band{{Description: "IMG_VIS"}}},
	}

	buckets := TimeSeries(cogs, Daily, "")
	require.Len(t, buckets, 2)
	assert.Equal(t, "2025-04-01T00:00:00Z", buckets[0].Interval)
	assert.Equal(t, 1, buckets[0].Count)
	assert.Equal(t, 3, buckets[1].Count)
	assert.Equal(t, []ProductSummary{
		{Product: "p1", ProductCode: "HMK", Count: 2},
		{Product: "p2", ProductCode: "MIR", Count: 1},
	}, buckets[1].Products)

	vis := TimeSeries(cogs, Weekly, "VIS")
	require.Len(t, vis, 1)
	assert.Equal(t, 3, vis[0].Count)
}

func TestTemporalDistribution(t *testing.T) {
	cogs := []model.Cog{
		{ProcessingLevel: "L1B", AquisitionDatetime: at(2025, 4, 3, 1)},
		{ProcessingLevel: "L1C", AquisitionDatetime: at(2025, 4, 20, 1)},
		{ProcessingLevel: "L1B", AquisitionDatetime: at(2025, 5, 1, 1)},
	}
	dist := TemporalDistribution(cogs, Monthly)
	require.Len(t, dist, 2)
	assert.Equal(t, 2, dist[0].Count)
	assert.Equal(t, map[string]int{"L1B": 1, "L1C": 1}, dist[0].ProcessingLevels)
}

func TestGridCoverage(t *testing.T) {
	cogs := []model.Cog{
		boxCog("3R", 0.5, 0.5, 1.5, 0.8, 100),
		boxCog("3S", 1.2, 0.2, 1.4, 0.4, 200),
		boxCog("3R", 3.5, 2.5, 3.6, 2.6, 50),
		{SatelliteID: "3R", AquisitionDatetime: 999}, // no corners
	}
	cov, err := GridCoverage(cogs, 1)
	require.NoError(t, err)

	assert.Equal(t, 3, cov.CogsConsidered)
	assert.Equal(t, 3, cov.TouchedCells)
	// overall bounds 0.2..2.6 lat, 0.5..3.6 lon => rows 0..2, cols 0..3
	assert.Equal(t, 12, cov.TotalCells)
	assert.Equal(t, 25.0, cov.CoveragePercent)

	require.Len(t, cov.Cells, 3)
	shared := cov.Cells[1]
	assert.Equal(t, 0, shared.Row)
	assert.Equal(t, 1, shared.Col)
	assert.Equal(t, 2, shared.Count)
	assert.Equal(t, int64(200), shared.LatestAcquisition)
	assert.Equal(t, []string{"3R", "3S"}, shared.Satellites)

	fc := cov.FeatureCollection()
	assert.Len(t, fc.Features, 3)
	assert.Equal(t, 2, fc.Features[1].Properties["count"])
}

func TestGridCoverageRejectsBadSize(t *testing.T) {
	_, err := GridCoverage(nil, 0)
	assert.Error(t, err)
	_, err = GridCoverage(nil, -1)
	assert.Error(t, err)
	_, err = GridCoverage([]model.Cog{boxCog("3R", -180, -90, 180, 90, 1)}, 0.0001)
	assert.Error(t, err)

	cov, err := GridCoverage(nil, 1)
	require.NoError(t, err)
	assert.Zero(t, cov.TotalCells)
	assert.Zero(t, cov.CoveragePercent)
}

func TestCheckWindows(t *testing.T) {
	assert.NoError(t, CheckWindows(Window{0, 10}, Window{11, 20}))
	assert.Error(t, CheckWindows(Window{0, 10}, Window{10, 20}), "shared endpoint overlaps")
	assert.Error(t, CheckWindows(Window{5, 1}, Window{11, 20}))
}

func TestCompareWindows(t *testing.T) {
	base := Window{Start: at(2025, 1, 1, 0), End: at(2025, 1, 31, 0)}
	comp := Window{Start: at(2025, 2, 1, 0), End: at(2025, 2, 28, 0)}

	var calls atomic.Int32
	fetch := func(_ context.Context, w Window) ([]model.Cog, error) {
		calls.Add(1)
		if w == base {
			return []model.Cog{
				{SatelliteID: "3R", ProcessingLevel: "L1B", Type: "VIS", AquisitionDatetime: at(2025, 1, 2, 0)},
				{SatelliteID: "3R", ProcessingLevel: "L1B", Type: "VIS", AquisitionDatetime: at(2025, 1, 3, 0)},
			}, nil
		}
		return []model.Cog{
			{SatelliteID: "3R", ProcessingLevel: "L1B", Type: "VIS", AquisitionDatetime: at(2025, 2, 2, 0)},
			{SatelliteID: "3S", ProcessingLevel: "L1C", Type: "TIR1", AquisitionDatetime: at(2025, 2, 2, 0)},
			{SatelliteID: "3S", ProcessingLevel: "L1C", Type: "TIR1", AquisitionDatetime: at(2025, 2, 3, 0)},
		}, nil
	}

	metrics, err := ParseMetrics(nil)
	require.NoError(t, err)
	cmp, err := CompareWindows(context.Background(), fetch, base, comp, metrics)
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())

	assert.Equal(t, 2, cmp.Baseline.Total)
	assert.Equal(t, 3, cmp.Comparison.Total)
	assert.Equal(t, 50.0, cmp.Changes.Total)
	assert.Equal(t, -50.0, cmp.Changes.BySatellite["3R"])
	assert.Equal(t, 100.0, cmp.Changes.BySatellite["3S"])
	assert.Equal(t, 100.0, cmp.Changes.ByBand["TIR1"])
	assert.Equal(t, map[string]int{"2025-02-02": 2, "2025-02-03": 1}, cmp.Comparison.ByDay)
}

func TestCompareWindowsPropagatesFetchError(t *testing.T) {
	boom := errors.New("boom")
	fetch := func(context.Context, Window) ([]model.Cog, error) { return nil, boom }
	_, err := CompareWindows(context.Background(), fetch, Window{0, 1}, Window{2, 3}, map[Metric]bool{MetricTotal: true})
	assert.ErrorIs(t, err, boom)
}

func TestParseMetrics(t *testing.T) {
	m, err := ParseMetrics([]string{"bands"})
	require.NoError(t, err)
	assert.True(t, m[MetricBands])
	assert.True(t, m[MetricTotal])
	assert.False(t, m[MetricSatellites])

	_, err = ParseMetrics([]string{"pixels"})
	assert.Error(t, err)
}

func TestBandDistribution(t *testing.T) {
	cogs := []model.Cog{
		{SatelliteID: "3R", ProcessingLevel: "L1B", Type: "VIS"},
		{SatelliteID: "3S", ProcessingLevel: "L1B", Type: model.MultiType,
			Bands: []model.Band{{Description: "IMG_VIS"}, {Description: "IMG_TIR1"}}},
		{SatelliteID: "3S", ProcessingLevel: "L1C", Type: "SWIR"},
	}
	dist := BandDistribution(cogs)
	require.Len(t, dist, 3)
	assert.Equal(t, "VIS", dist[0].Band)
	assert.Equal(t, 2, dist[0].Count)
	assert.Equal(t, map[string]int{"3R": 1, "3S": 1}, dist[0].BySatellite)
	assert.Equal(t, "SWIR", dist[1].Band)
	assert.Equal(t, "TIR1", dist[2].Band)
}

func TestStats(t *testing.T) {
	products := []model.Product{{ProcessingLevel: "L1B"}, {ProcessingLevel: "L2"}}
	cogs := []model.Cog{
		{ProcessingLevel: "L1B", Type: "VIS", AquisitionDatetime: 300},
		{ProcessingLevel: "L1B", Type: "TIR1", AquisitionDatetime: 100},
	}
	s := Stats("3R", products, cogs)
	assert.Equal(t, 2, s.ProductCount)
	assert.Equal(t, 2, s.CogCount)
	assert.Equal(t, []string{"TIR1", "VIS"}, s.Bands)
	assert.Equal(t, []string{"L1B", "L2"}, s.ProcessingLevels)
	assert.Equal(t, int64(100), *s.FirstAcquisition)
	assert.Equal(t, int64(300), *s.LastAcquisition)

	empty := Stats("3R", nil, nil)
	assert.Nil(t, empty.FirstAcquisition)
}

func TestCompareProducts(t *testing.T) {
	products := []model.Product{{ID: "a"}, {ID: "b"}}
	fetch := func(_ context.Context, p model.Product) ([]model.Cog, error) {
		if p.ID == "a" {
			return []model.Cog{{Type: "VIS", AquisitionDatetime: 5}, {Type: "TIR1", AquisitionDatetime: 9}}, nil
		}
		return []model.Cog{{Type: model.MultiType, Bands: []model.Band{{Description: "IMG_VIS"}}, AquisitionDatetime: 7}}, nil
	}
	cmp, err := CompareProducts(context.Background(), products, fetch, true)
	require.NoError(t, err)

	assert.Equal(t, []string{"VIS"}, cmp.CommonBands)
	assert.Equal(t, []string{"TIR1"}, cmp.UniqueBands["a"])
	assert.Empty(t, cmp.UniqueBands["b"])
	assert.Equal(t, int64(9), *cmp.Products[0].LatestAcquisition)
	assert.Equal(t, "VIS", cmp.Products[1].Cogs[0].Bands[0].Description)
}
