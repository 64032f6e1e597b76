// Package model defines the data structures used throughout the catalog service.
// These structures represent satellites, their products and the COG metadata
// records ingested under them.
package model

import (
	"time"
)

// MultiType is the COG type sentinel meaning "see the bands array for the real bands".
const MultiType = "MULTI"

// Satellite is the top-level owner of products and COGs.
// Products and Cogs are back-reference sets maintained with add-to-set semantics.
type Satellite struct {
	ID           string    `json:"id" bson:"_id"`
	SatelliteID  string    `json:"satelliteId" bson:"satelliteId"` // External short code, e.g. "3R"
	Name         string    `json:"name" bson:"name"`
	Manufacturer string    `json:"manufacturer,omitempty" bson:"manufacturer,omitempty"`
	Orbit        string    `json:"orbit,omitempty" bson:"orbit,omitempty"`
	Products     []string  `json:"products" bson:"products"` // Product store ids
	Cogs         []string  `json:"cogs" bson:"cogs"`         // Cog ids
	CreatedAt    time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Product groups COGs of one product code at one processing level of a satellite.
// The uniqueness key is (ProductID, SatelliteID, ProcessingLevel).
type Product struct {
	ID                 string    `json:"id" bson:"_id"`
	ProductID          string    `json:"productId" bson:"productId"` // Short code, e.g. "HMK"
	SatelliteID        string    `json:"satelliteId" bson:"satelliteId"`
	ProcessingLevel    string    `json:"processingLevel" bson:"processingLevel"`
	IsVisible          bool      `json:"isVisible" bson:"isVisible"`
	ProductDisplayName string    `json:"productDisplayName,omitempty" bson:"productDisplayName,omitempty"`
	Cogs               []string  `json:"cogs" bson:"cogs"`
	CreatedAt          time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Key returns the product's uniqueness triple.
func (p Product) Key() ProductKey {
	return ProductKey{ProductID: p.ProductID, SatelliteID: p.SatelliteID, ProcessingLevel: p.ProcessingLevel}
}

// ProductKey is the true identity of a product.
type ProductKey struct {
	ProductID       string
	SatelliteID     string
	ProcessingLevel string
}

// Coverage is the loose geographic extent reported by the producer.
type Coverage struct {
	Lat1 float64 `json:"lat1" bson:"lat1"`
	Lat2 float64 `json:"lat2" bson:"lat2"`
	Lon1 float64 `json:"lon1" bson:"lon1"`
	Lon2 float64 `json:"lon2" bson:"lon2"`
}

// Size is the raster size in pixels.
type Size struct {
	Width  int `json:"width" bson:"width"`
	Height int `json:"height" bson:"height"`
}

// Coord is a [lon, lat] pair.
type Coord []float64

// Valid reports whether the pair carries both components.
func (c Coord) Valid() bool { return len(c) >= 2 }

// Lon returns the longitude component.
func (c Coord) Lon() float64 { return c[0] }

// Lat returns the latitude component.
func (c Coord) Lat() float64 { return c[1] }

// CornerCoords are the four raster corners plus the center.
type CornerCoords struct {
	UpperLeft  Coord `json:"upperLeft" bson:"upperLeft"`
	UpperRight Coord `json:"upperRight" bson:"upperRight"`
	LowerLeft  Coord `json:"lowerLeft" bson:"lowerLeft"`
	LowerRight Coord `json:"lowerRight" bson:"lowerRight"`
	Center     Coord `json:"center,omitempty" bson:"center,omitempty"`
}

// Corners returns the four corner pairs in a fixed order.
func (c CornerCoords) Corners() []Coord {
	return []Coord{c.UpperLeft, c.UpperRight, c.LowerLeft, c.LowerRight}
}

// Band describes a single band of a raster together with its statistics.
type Band struct {
	BandID              int      `json:"bandId,omitempty" bson:"bandId,omitempty"`
	Description         string   `json:"description,omitempty" bson:"description,omitempty"`
	Type                string   `json:"type,omitempty" bson:"type,omitempty"`
	ColorInterpretation string   `json:"colorInterpretation,omitempty" bson:"colorInterpretation,omitempty"`
	Min                 float64  `json:"min" bson:"min"`
	Max                 float64  `json:"max" bson:"max"`
	Mean                float64  `json:"mean" bson:"mean"`
	StdDev              float64  `json:"stdDev" bson:"stdDev"`
	NoDataValue         *float64 `json:"noDataValue,omitempty" bson:"noDataValue,omitempty"`
}

// Cog is the metadata record of one Cloud-Optimized GeoTIFF.
// Cogs are immutable once ingested.
type Cog struct {
	ID                 string        `json:"id" bson:"_id"`
	Satellite          string        `json:"satellite" bson:"satellite"` // Satellite store id
	SatelliteID        string        `json:"satelliteId" bson:"satelliteId"`
	Filename           string        `json:"filename" bson:"filename"`
	Filepath           string        `json:"filepath" bson:"filepath"`
	AquisitionDatetime int64         `json:"aquisition_datetime" bson:"aquisition_datetime"` // Epoch millis
	Coverage           *Coverage     `json:"coverage,omitempty" bson:"coverage,omitempty"`
	CoordinateSystem   any           `json:"coordinateSystem,omitempty" bson:"coordinateSystem,omitempty"`
	Size               *Size         `json:"size,omitempty" bson:"size,omitempty"`
	CornerCoords       *CornerCoords `json:"cornerCoords,omitempty" bson:"cornerCoords,omitempty"`
	Bands              []Band        `json:"bands" bson:"bands"`
	ProcessingLevel    string        `json:"processingLevel" bson:"processingLevel"`
	Version            string        `json:"version,omitempty" bson:"version,omitempty"`
	Revision           string        `json:"revision,omitempty" bson:"revision,omitempty"`
	Resolution         string        `json:"resolution,omitempty" bson:"resolution,omitempty"`
	Type               string        `json:"type" bson:"type"`
	ProductCode        string        `json:"productCode" bson:"productCode"`
	Product            string        `json:"product,omitempty" bson:"product,omitempty"` // Product store id
	CreatedAt          time.Time     `json:"createdAt" bson:"createdAt"`
}

// AcquisitionTime returns the acquisition instant in UTC.
func (c Cog) AcquisitionTime() time.Time {
	return time.UnixMilli(c.AquisitionDatetime).UTC()
}

// User is a registered account allowed to sign in.
type User struct {
	ID           string    `json:"id" bson:"_id"`
	Email        string    `json:"email" bson:"email"`
	PasswordHash string    `json:"-" bson:"passwordHash"`
	FirstName    string    `json:"firstName" bson:"firstName"`
	LastName     string    `json:"lastName" bson:"lastName"`
	CreatedAt    time.Time `json:"createdAt" bson:"createdAt"`
}
