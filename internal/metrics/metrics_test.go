package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewMetricsIsSingleton(t *testing.T) {
	assert.Same(t, NewMetrics(), NewMetrics())
}

func TestObserveStorage(t *testing.T) {
	m := NewMetrics()
	before := testutil.ToFloat64(m.StorageOperationTotal.WithLabelValues("find_cogs", "error"))
	m.ObserveStorage("find_cogs", time.Now(), errors.New("boom"))
	after := testutil.ToFloat64(m.StorageOperationTotal.WithLabelValues("find_cogs", "error"))
	assert.Equal(t, before+1, after)
}
