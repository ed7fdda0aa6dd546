package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ObserveTx(t *testing.T) {
	r := NewRegistry()
	r.ObserveTx("verify", time.Now(), nil)
	r.ObserveTx("verify", time.Now(), errors.New("boom"))
	r.ObserveTx("verify", time.Now(), nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.TxTotal.WithLabelValues("verify", "committed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.TxTotal.WithLabelValues("verify", "aborted")))
}

func TestRegistry_NilIsNoop(t *testing.T) {
	var r *Registry
	assert.NotPanics(t, func() {
		r.ObserveTx("x", time.Now(), nil)
		r.AddRecomputed(3)
		r.DispatchRow("inserted")
		r.StockSyncRow("updated")
		r.SetQueueDepth(1)
	})
}

func TestRegistry_Handler(t *testing.T) {
	r := NewRegistry()
	r.AddRecomputed(2)
	r.DispatchRow("duplicate")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "orders_virtual_stock_recomputed_total 2"))
	assert.True(t, strings.Contains(body, `orders_dispatch_rows_total{result="duplicate"} 1`))
}
