package aggregate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/trinetra-eo/cogcatalog/internal/band"
	apperrors "github.com/trinetra-eo/cogcatalog/internal/errors"
	"github.com/trinetra-eo/cogcatalog/internal/model"
)

// Metric selects one dimension of a comparative analysis.
type Metric string

const (
	MetricTotal            Metric = "total"
	MetricSatellites       Metric = "satellites"
	MetricProcessingLevels Metric = "processingLevels"
	MetricBands            Metric = "bands"
	MetricTemporal         Metric = "temporal"
)

// AllMetrics is used when a request names none.
var AllMetrics = []Metric{MetricTotal, MetricSatellites, MetricProcessingLevels, MetricBands, MetricTemporal}

// ParseMetrics validates metric names. An empty list selects AllMetrics.
func ParseMetrics(raw []string) (map[Metric]bool, error) {
	set := make(map[Metric]bool)
	if len(raw) == 0 {
		for _, m := range AllMetrics {
			set[m] = true
		}
		return set, nil
	}
	for _, r := range raw {
		m := Metric(strings.TrimSpace(r))
		switch m {
		case MetricTotal, MetricSatellites, MetricProcessingLevels, MetricBands, MetricTemporal:
			set[m] = true
		default:
			return nil, apperrors.Validation("unknown metric %q", r)
		}
	}
	// totals are always reported
	set[MetricTotal] = true
	return set, nil
}

// Window is an inclusive acquisition-time range in epoch millis.
type Window struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// CheckWindows rejects malformed or overlapping windows.
func CheckWindows(baseline, comparison Window) error {
	if baseline.Start > baseline.End {
		return apperrors.Validation("baseline window start is after its end")
	}
	if comparison.Start > comparison.End {
		return apperrors.Validation("comparison window start is after its end")
	}
	if baseline.Start <= comparison.End && comparison.Start <= baseline.End {
		return apperrors.Validation("baseline and comparison windows must not overlap")
	}
	return nil
}

// WindowStats are the per-window counts of a comparative analysis.
type WindowStats struct {
	Window            Window         `json:"window"`
	Total             int            `json:"total"`
	BySatellite       map[string]int `json:"bySatellite,omitempty"`
	ByProcessingLevel map[string]int `json:"byProcessingLevel,omitempty"`
	ByBand            map[string]int `json:"byBand,omitempty"`
	ByDay             map[string]int `json:"byDay,omitempty"`
}

// Summarize counts cogs of one window along the selected metrics.
func Summarize(w Window, cogs []model.Cog, metrics map[Metric]bool) WindowStats {
	s := WindowStats{Window: w, Total: len(cogs)}
	if metrics[MetricSatellites] {
		s.BySatellite = make(map[string]int)
	}
	if metrics[MetricProcessingLevels] {
		s.ByProcessingLevel = make(map[string]int)
	}
	if metrics[MetricBands] {
		s.ByBand = make(map[string]int)
	}
	if metrics[MetricTemporal] {
		s.ByDay = make(map[string]int)
	}

	for _, c := range cogs {
		if s.BySatellite != nil {
			s.BySatellite[c.SatelliteID]++
		}
		if s.ByProcessingLevel != nil {
			s.ByProcessingLevel[c.ProcessingLevel]++
		}
		if s.ByBand != nil {
			for _, t := range band.EffectiveBands(c) {
				s.ByBand[t]++
			}
		}
		if s.ByDay != nil {
			s.ByDay[c.AcquisitionTime().Format(time.DateOnly)]++
		}
	}
	return s
}

// Changes holds percent changes from baseline to comparison.
type Changes struct {
	Total             float64            `json:"total"`
	BySatellite       map[string]float64 `json:"bySatellite,omitempty"`
	ByProcessingLevel map[string]float64 `json:"byProcessingLevel,omitempty"`
	ByBand            map[string]float64 `json:"byBand,omitempty"`
}

// Comparison is the full comparative-analysis result.
type Comparison struct {
	Baseline   WindowStats `json:"baseline"`
	Comparison WindowStats `json:"comparison"`
	Changes    Changes     `json:"percentChange"`
}

// PercentChange is (next-prev)/prev*100 rounded to two decimals. A zero baseline
// yields 0 when the next value is also zero and 100 otherwise.
func PercentChange(prev, next float64) float64 {
	if prev == 0 {
		if next == 0 {
			return 0
		}
		return 100
	}
	return round2((next - prev) / prev * 100)
}

// Compare computes percent changes between two summarized windows.
func Compare(baseline, comparison WindowStats) Comparison {
	return Comparison{
		Baseline:   baseline,
		Comparison: comparison,
		Changes: Changes{
			Total:             PercentChange(float64(baseline.Total), float64(comparison.Total)),
			BySatellite:       changeMap(baseline.BySatellite, comparison.BySatellite),
			ByProcessingLevel: changeMap(baseline.ByProcessingLevel, comparison.ByProcessingLevel),
			ByBand:            changeMap(baseline.ByBand, comparison.ByBand),
		},
	}
}

func changeMap(prev, next map[string]int) map[string]float64 {
	if prev == nil && next == nil {
		return nil
	}
	out := make(map[string]float64, len(prev)+len(next))
	for k, v := range prev {
		out[k] = PercentChange(float64(v), float64(next[k]))
	}
	for k, v := range next {
		if _, seen := prev[k]; !seen {
			out[k] = PercentChange(0, float64(v))
		}
	}
	return out
}

// WindowFetcher loads the cogs acquired inside w.
type WindowFetcher func(ctx context.Context, w Window) ([]model.Cog, error)

// CompareWindows validates both windows, fetches them concurrently and compares them.
func CompareWindows(ctx context.Context, fetch WindowFetcher, baseline, comparison Window, metrics map[Metric]bool) (*Comparison, error) {
	if err := CheckWindows(baseline, comparison); err != nil {
		return nil, err
	}

	var baseCogs, compCogs []model.Cog
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		baseCogs, err = fetch(gctx, baseline)
		if err != nil {
			return fmt.Errorf("fetch baseline window: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		compCogs, err = fetch(gctx, comparison)
		if err != nil {
			return fmt.Errorf("fetch comparison window: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := Compare(Summarize(baseline, baseCogs, metrics), Summarize(comparison, compCogs, metrics))
	return &result, nil
}
