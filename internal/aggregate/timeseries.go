// Package aggregate computes in-memory statistics over already fetched cog sets:
// time bucketing, grid coverage, comparative windows and band distribution.
//
// Every function here is synchronous over its input. Callers bound the input by
// the query that produced it.
package aggregate

import (
	"sort"
	"strings"
	"time"

	"github.com/trinetra-eo/cogcatalog/internal/band"
	apperrors "github.com/trinetra-eo/cogcatalog/internal/errors"
	"github.com/trinetra-eo/cogcatalog/internal/model"
)

// Interval is a time-bucket granularity.
type Interval string

const (
	Hourly  Interval = "hourly"
	Daily   Interval = "daily"
	Weekly  Interval = "weekly"
	Monthly Interval = "monthly"
)

// ParseInterval validates raw. An empty value defaults to Daily.
func ParseInterval(raw string) (Interval, error) {
	switch i := Interval(strings.ToLower(strings.TrimSpace(raw))); i {
	case "":
		return Daily, nil
	case Hourly, Daily, Weekly, Monthly:
		return i, nil
	default:
		return "", apperrors.Validation("interval must be one of hourly, daily, weekly, monthly")
	}
}

// Truncate returns the UTC start of the bucket containing t. Weeks start on Sunday.
func (i Interval) Truncate(t time.Time) time.Time {
	t = t.UTC()
	switch i {
	case Hourly:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC)
	case Weekly:
		return time.Date(t.Year(), t.Month(), t.Day()-int(t.Weekday()), 0, 0, 0, 0, time.UTC)
	case Monthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
}

// ProductSummary counts cogs of one product inside a bucket.
type ProductSummary struct {
	Product     string `json:"product"`
	ProductCode string `json:"productCode"`
	Count       int    `json:"count"`
}

// Bucket is one time-series entry.
type Bucket struct {
	Interval  string           `json:"interval"` // RFC 3339 bucket start
	Timestamp int64            `json:"timestamp"`
	Count     int              `json:"count"`
	Products  []ProductSummary `json:"products"`
}

// TimeSeries groups cogs into interval buckets, keeping only cogs matching
// bandToken when it is non-empty. Buckets are sorted ascending.
func TimeSeries(cogs []model.Cog, interval Interval, bandToken string) []Bucket {
	type acc struct {
		bucket   Bucket
		products map[string]*ProductSummary
		order    []string
	}
	byKey := make(map[int64]*acc)

	for _, c := range cogs {
		if bandToken != "" && !band.Matches(c, bandToken) {
			continue
		}
		start := interval.Truncate(c.AcquisitionTime())
		key := start.UnixMilli()
		a, ok := byKey[key]
		if !ok {
			a = &acc{
				bucket:   Bucket{Interval: start.Format(time.RFC3339), Timestamp: key},
				products: make(map[string]*ProductSummary),
			}
			byKey[key] = a
		}
		a.bucket.Count++

		ps, ok := a.products[c.Product]
		if !ok {
			ps = &ProductSummary{Product: c.Product, ProductCode: band.NormalizeName(c.ProductCode)}
			a.products[c.Product] = ps
			a.order = append(a.order, c.Product)
		}
		ps.Count++
	}

	out := make([]Bucket, 0, len(byKey))
	for _, a := range byKey {
		a.bucket.Products = make([]ProductSummary, 0, len(a.order))
		for _, id := range a.order {
			a.bucket.Products = append(a.bucket.Products, *a.products[id])
		}
		sort.Slice(a.bucket.Products, func(i, j int) bool {
			return a.bucket.Products[i].Product < a.bucket.Products[j].Product
		})
		out = append(out, a.bucket)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

// TemporalBucket is one entry of a per-interval distribution broken down by
// processing level.
type TemporalBucket struct {
	Interval         string         `json:"interval"`
	Timestamp        int64          `json:"timestamp"`
	Count            int            `json:"count"`
	ProcessingLevels map[string]int `json:"processingLevels"`
}

// TemporalDistribution counts cogs per interval and processing level.
func TemporalDistribution(cogs []model.Cog, interval Interval) []TemporalBucket {
	byKey := make(map[int64]*TemporalBucket)
	for _, c := range cogs {
		start := interval.Truncate(c.AcquisitionTime())
		key := start.UnixMilli()
		b, ok := byKey[key]
		if !ok {
			b = &TemporalBucket{
				Interval:         start.Format(time.RFC3339),
				Timestamp:        key,
				ProcessingLevels: make(map[string]int),
			}
			byKey[key] = b
		}
		b.Count++
		if c.ProcessingLevel != "" {
			b.ProcessingLevels[c.ProcessingLevel]++
		}
	}

	out := make([]TemporalBucket, 0, len(byKey))
	for _, b := range byKey {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}
