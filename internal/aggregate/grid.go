package aggregate

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	apperrors "github.com/trinetra-eo/cogcatalog/internal/errors"
	"github.com/trinetra-eo/cogcatalog/internal/model"
	"github.com/trinetra-eo/cogcatalog/internal/query"
)

// MaxGridCells caps the number of cells a coverage request may enumerate.
const MaxGridCells = 1_000_000

// Cell is one grid cell touched by at least one cog.
type Cell struct {
	Row               int      `json:"row"`
	Col               int      `json:"col"`
	South             float64  `json:"south"`
	West              float64  `json:"west"`
	North             float64  `json:"north"`
	East              float64  `json:"east"`
	Count             int      `json:"count"`
	LatestAcquisition int64    `json:"latestAcquisition"`
	Satellites        []string `json:"satellites"`
}

// Bound returns the cell's extent.
func (c Cell) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{c.West, c.South}, Max: orb.Point{c.East, c.North}}
}

// Coverage is the result of a grid coverage computation.
type Coverage struct {
	CellSize        float64   `json:"cellSize"`
	Cells           []Cell    `json:"cells"`
	TouchedCells    int       `json:"touchedCells"`
	TotalCells      int       `json:"totalCells"`
	CoveragePercent float64   `json:"coveragePercent"`
	Bounds          []float64 `json:"bounds,omitempty"` // [west, south, east, north] of observed data
	CogsConsidered  int       `json:"cogsConsidered"`
}

type cellKey struct{ row, col int }

// GridCoverage enumerates every cellSize-aligned cell intersecting each cog's bounds.
// Cogs without corner coordinates are skipped. Coverage is the share of touched cells
// among all cells spanned by the overall observed bounds.
func GridCoverage(cogs []model.Cog, cellSize float64) (*Coverage, error) {
	if !(cellSize > 0) || math.IsInf(cellSize, 0) {
		return nil, apperrors.Validation("gridSize must be a positive number of degrees")
	}

	type cellAcc struct {
		cell       Cell
		satellites map[string]struct{}
	}
	cells := make(map[cellKey]*cellAcc)
	var overall orb.Bound
	considered := 0

	for _, c := range cogs {
		b, ok := query.CogBound(c)
		if !ok {
			continue
		}
		if considered == 0 {
			overall = b
		} else {
			overall = overall.Union(b)
		}
		considered++

		minRow, maxRow := cellIndex(b.Min.Lat(), cellSize), cellIndex(b.Max.Lat(), cellSize)
		minCol, maxCol := cellIndex(b.Min.Lon(), cellSize), cellIndex(b.Max.Lon(), cellSize)
		if n := (maxRow - minRow + 1) * (maxCol - minCol + 1); n > MaxGridCells || n <= 0 {
			return nil, apperrors.Validation("gridSize %g is too small for the requested extent", cellSize)
		}

		for row := minRow; row <= maxRow; row++ {
			for col := minCol; col <= maxCol; col++ {
				k := cellKey{row, col}
				a, ok := cells[k]
				if !ok {
					if len(cells) >= MaxGridCells {
						return nil, apperrors.Validation("gridSize %g is too small for the requested extent", cellSize)
					}
					a = &cellAcc{
						cell: Cell{
							Row:   row,
							Col:   col,
							South: float64(row) * cellSize,
							West:  float64(col) * cellSize,
							North: float64(row+1) * cellSize,
							East:  float64(col+1) * cellSize,
						},
						satellites: make(map[string]struct{}),
					}
					cells[k] = a
				}
				a.cell.Count++
				if c.AquisitionDatetime > a.cell.LatestAcquisition {
					a.cell.LatestAcquisition = c.AquisitionDatetime
				}
				if c.SatelliteID != "" {
					a.satellites[c.SatelliteID] = struct{}{}
				}
			}
		}
	}

	out := &Coverage{CellSize: cellSize, Cells: make([]Cell, 0, len(cells)), CogsConsidered: considered}
	for _, a := range cells {
		a.cell.Satellites = sortedKeys(a.satellites)
		out.Cells = append(out.Cells, a.cell)
	}
	sort.Slice(out.Cells, func(i, j int) bool {
		if out.Cells[i].Row != out.Cells[j].Row {
			return out.Cells[i].Row < out.Cells[j].Row
		}
		return out.Cells[i].Col < out.Cells[j].Col
	})
	out.TouchedCells = len(out.Cells)

	if considered > 0 {
		rows := cellIndex(overall.Max.Lat(), cellSize) - cellIndex(overall.Min.Lat(), cellSize) + 1
		cols := cellIndex(overall.Max.Lon(), cellSize) - cellIndex(overall.Min.Lon(), cellSize) + 1
		out.TotalCells = rows * cols
		out.CoveragePercent = round2(float64(out.TouchedCells) / float64(out.TotalCells) * 100)
		out.Bounds = []float64{overall.Min.Lon(), overall.Min.Lat(), overall.Max.Lon(), overall.Max.Lat()}
	}
	return out, nil
}

func cellIndex(v, size float64) int {
	return int(math.Floor(v / size))
}

// FeatureCollection renders the touched cells as GeoJSON polygons.
func (c *Coverage) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, cell := range c.Cells {
		f := geojson.NewFeature(cell.Bound().ToPolygon())
		f.Properties["row"] = cell.Row
		f.Properties["col"] = cell.Col
		f.Properties["count"] = cell.Count
		f.Properties["latestAcquisition"] = cell.LatestAcquisition
		f.Properties["satellites"] = cell.Satellites
		fc.Append(f)
	}
	fc.ExtraMembers = geojson.Properties{
		"cellSize":        c.CellSize,
		"touchedCells":    c.TouchedCells,
		"totalCells":      c.TotalCells,
		"coveragePercent": c.CoveragePercent,
	}
	return fc
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
