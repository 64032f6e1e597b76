package aggregate

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/trinetra-eo/cogcatalog/internal/band"
	"github.com/trinetra-eo/cogcatalog/internal/model"
)

// BandCount is one row of a band distribution.
type BandCount struct {
	Band              string         `json:"band"`
	Count             int            `json:"count"`
	BySatellite       map[string]int `json:"bySatellite"`
	ByProcessingLevel map[string]int `json:"byProcessingLevel"`
}

// BandDistribution counts every band token across cogs, sorted by count
// descending then token ascending.
func BandDistribution(cogs []model.Cog) []BandCount {
	byBand := make(map[string]*BandCount)
	for _, c := range cogs {
		for _, t := range band.EffectiveBands(c) {
			bc, ok := byBand[t]
			if !ok {
				bc = &BandCount{Band: t, BySatellite: map[string]int{}, ByProcessingLevel: map[string]int{}}
				byBand[t] = bc
			}
			bc.Count++
			bc.BySatellite[c.SatelliteID]++
			bc.ByProcessingLevel[c.ProcessingLevel]++
		}
	}

	out := make([]BandCount, 0, len(byBand))
	for _, bc := range byBand {
		out = append(out, *bc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Band < out[j].Band
	})
	return out
}

// SatelliteStats is the per-satellite rollup, recomputed from cog queries.
type SatelliteStats struct {
	SatelliteID       string         `json:"satelliteId"`
	ProductCount      int            `json:"productCount"`
	CogCount          int            `json:"cogCount"`
	Bands             []string       `json:"bands"`
	ProcessingLevels  []string       `json:"processingLevels"`
	ByProcessingLevel map[string]int `json:"byProcessingLevel"`
	FirstAcquisition  *int64         `json:"firstAcquisition"`
	LastAcquisition   *int64         `json:"lastAcquisition"`
}

// Stats computes a satellite rollup from its products and cogs.
func Stats(satelliteID string, products []model.Product, cogs []model.Cog) SatelliteStats {
	s := SatelliteStats{
		SatelliteID:       satelliteID,
		ProductCount:      len(products),
		CogCount:          len(cogs),
		Bands:             band.Distinct(cogs),
		ByProcessingLevel: make(map[string]int),
	}
	levels := make(map[string]struct{})
	for _, p := range products {
		levels[p.ProcessingLevel] = struct{}{}
	}
	for i := range cogs {
		c := cogs[i]
		s.ByProcessingLevel[c.ProcessingLevel]++
		levels[c.ProcessingLevel] = struct{}{}
		if s.FirstAcquisition == nil || c.AquisitionDatetime < *s.FirstAcquisition {
			v := c.AquisitionDatetime
			s.FirstAcquisition = &v
		}
		if s.LastAcquisition == nil || c.AquisitionDatetime > *s.LastAcquisition {
			v := c.AquisitionDatetime
			s.LastAcquisition = &v
		}
	}
	delete(levels, "")
	s.ProcessingLevels = sortedKeys(levels)
	return s
}

// ProductProfile summarizes one product inside a product comparison.
type ProductProfile struct {
	Product           model.Product `json:"product"`
	CogCount          int           `json:"cogCount"`
	Bands             []string      `json:"bands"`
	LatestAcquisition *int64        `json:"latestAcquisition"`
	Cogs              []model.Cog   `json:"cogs,omitempty"`
}

// ProductComparison is the result of comparing several products.
type ProductComparison struct {
	Products    []ProductProfile    `json:"products"`
	CommonBands []string            `json:"commonBands"`
	UniqueBands map[string][]string `json:"uniqueBands"` // keyed by product store id
}

// CogFetcher loads the cogs of one product.
type CogFetcher func(ctx context.Context, p model.Product) ([]model.Cog, error)

// CompareProducts fetches every product's cogs concurrently and reports the bands
// shared by all products and those unique to each.
func CompareProducts(ctx context.Context, products []model.Product, fetch CogFetcher, includeCogs bool) (*ProductComparison, error) {
	profiles := make([]ProductProfile, len(products))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range products {
		i, p := i, p
		g.Go(func() error {
			cogs, err := fetch(gctx, p)
			if err != nil {
				return fmt.Errorf("fetch cogs for product %s: %w", p.ID, err)
			}
			prof := ProductProfile{Product: p, CogCount: len(cogs), Bands: band.Distinct(cogs)}
			for _, c := range cogs {
				if prof.LatestAcquisition == nil || c.AquisitionDatetime > *prof.LatestAcquisition {
					v := c.AquisitionDatetime
					prof.LatestAcquisition = &v
				}
			}
			if includeCogs {
				prof.Cogs = make([]model.Cog, len(cogs))
				for j, c := range cogs {
					prof.Cogs[j] = band.NormalizeCog(c)
				}
			}
			profiles[i] = prof
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &ProductComparison{Products: profiles, CommonBands: []string{}, UniqueBands: map[string][]string{}}
	if len(profiles) == 0 {
		return out, nil
	}

	counts := make(map[string]int)
	for _, p := range profiles {
		for _, b := range p.Bands {
			counts[b]++
		}
	}
	common := make(map[string]struct{})
	for b, n := range counts {
		if n == len(profiles) {
			common[b] = struct{}{}
		}
	}
	out.CommonBands = sortedKeys(common)
	for _, p := range profiles {
		unique := []string{}
		for _, b := range p.Bands {
			if _, ok := common[b]; !ok {
				unique = append(unique, b)
			}
		}
		out.UniqueBands[p.Product.ID] = unique
	}
	return out, nil
}
