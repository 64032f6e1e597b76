package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestBuildCogWhere(t *testing.T) {
	w, ok := buildCogWhere(CogQuery{
		SatelliteIDs:     []string{"3R"},
		Types:            []string{"VIS"},
		ProductIDs:       []string{"p1", "p2"},
		RestrictProducts: true,
		From:             int64p(10),
		To:               int64p(20),
	})
	require.True(t, ok)
	assert.Equal(t,
		" WHERE satellite_id = ANY($1) AND type = ANY($2) AND product = ANY($3) AND aquisition_datetime >= $4 AND aquisition_datetime <= $5",
		w.String())
	assert.Equal(t, []any{[]string{"3R"}, []string{"VIS"}, []string{"p1", "p2"}, int64(10), int64(20)}, w.args)

	assert.Equal(t, " LIMIT $6 OFFSET $7", limitClause(w, 5, 3))
}

func TestBuildCogWhereEmptyProductSet(t *testing.T) {
	_, ok := buildCogWhere(CogQuery{RestrictProducts: true})
	assert.False(t, ok)

	w, ok := buildCogWhere(CogQuery{})
	require.True(t, ok)
	assert.Equal(t, "", w.String())
}

func TestBuildProductWhere(t *testing.T) {
	w := buildProductWhere(ProductQuery{SatelliteIDs: []string{"3R"}, VisibleOnly: true})
	assert.Equal(t, " WHERE satellite_id = ANY($1) AND is_visible = $2", w.String())
	assert.Equal(t, " ORDER BY product_id DESC, id ASC", productOrderBy(ProductQuery{SortBy: "productId", SortDesc: true}))
	assert.Equal(t, " ORDER BY created_at ASC, id ASC", productOrderBy(ProductQuery{SortBy: "; DROP TABLE products"}))
}

func TestCogFilter(t *testing.T) {
	f, ok := cogFilter(CogQuery{
		SatelliteIDs:     []string{"3R"},
		ProductIDs:       []string{"p1"},
		RestrictProducts: true,
		From:             int64p(10),
	})
	require.True(t, ok)
	assert.Equal(t, bson.M{
		"satelliteId":         bson.M{"$in": []string{"3R"}},
		"product":             bson.M{"$in": []string{"p1"}},
		"aquisition_datetime": bson.M{"$gte": int64(10)},
	}, f)

	_, ok = cogFilter(CogQuery{RestrictProducts: true, ProductIDs: []string{}})
	assert.False(t, ok, "an empty product set must match nothing")
}

func TestProductFilter(t *testing.T) {
	f := productFilter(ProductQuery{ProductIDs: []string{"HMK"}, VisibleOnly: true})
	assert.Equal(t, bson.M{"productId": bson.M{"$in": []string{"HMK"}}, "isVisible": true}, f)
}
