package health

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthManager_Aggregation(t *testing.T) {
	hm := NewHealthManager(nil)
	assert.True(t, hm.IsHealthy(), "empty manager is healthy")

	hm.Register("trader.BTC", func() error { return nil })
	assert.True(t, hm.IsHealthy())

	hm.Register("trader.ETH", func() error { return fmt.Errorf("strategy state invalid") })
	assert.False(t, hm.IsHealthy())

	status := hm.GetStatus()
	assert.Equal(t, "Healthy", status["trader.BTC"])
	assert.Equal(t, "Unhealthy: strategy state invalid", status["trader.ETH"])
	assert.Equal(t, []string{"trader.BTC", "trader.ETH"}, hm.Components())

	hm.Unregister("trader.ETH")
	assert.True(t, hm.IsHealthy())
}

func TestHealthManager_ServeHTTP(t *testing.T) {
	hm := NewHealthManager(nil)
	hm.Register("store", func() error { return nil })

	rec := httptest.NewRecorder()
	hm.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	hm.Register("trader.BTC", func() error { return fmt.Errorf("down") })
	rec = httptest.NewRecorder()
	hm.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Unhealthy: down", body["trader.BTC"])
}
