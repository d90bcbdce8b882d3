package solaredge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/masontrang-dev/solar-charger/internal/config"
	"github.com/masontrang-dev/solar-charger/internal/core/domain"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testCloudClient(t *testing.T, handler http.HandlerFunc) *CloudClient {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewCloudClient(config.SolarEdgeCloudConfig{ApiKey: "test-key", SiteId: "12345"}, zap.NewNop())
	c.baseURL = srv.URL
	c.http.RetryMax = 0
	return c
}

func TestCloudPowerFlowExportFromNegativeGrid(t *testing.T) {
	require := require.New(t)
	c := testCloudClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal("/site/12345/currentPowerFlow.json", r.URL.Path)
		require.Equal("test-key", r.URL.Query().Get("api_key"))
		w.Write([]byte(`{"siteCurrentPowerFlow":{"unit":"kW",` +
			`"GRID":{"currentPower":-3.1},"PV":{"currentPower":4.2}}}`))
	})

	snap, err := c.GetProduction(context.Background())
	require.NoError(err)
	require.InDelta(4200, snap.ProductionWatts, 0.001)
	require.True(snap.HasExport)
	require.InDelta(3100, snap.ExportWatts, 0.001)
}

func TestCloudPowerFlowImportingClampsExportToZero(t *testing.T) {
	require := require.New(t)
	c := testCloudClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"siteCurrentPowerFlow":{"unit":"kW",` +
			`"GRID":{"currentPower":1.5},"PV":{"currentPower":0.8}}}`))
	})

	snap, err := c.GetProduction(context.Background())
	require.NoError(err)
	require.True(snap.HasExport)
	require.Zero(snap.ExportWatts)
}

func TestCloudUnauthorizedIsAuthExpired(t *testing.T) {
	require := require.New(t)
	c := testCloudClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := c.GetProduction(context.Background())
	require.Error(err)
	require.True(domain.IsAuthExpired(err))
}

func TestCloudFallsBackToOverview(t *testing.T) {
	require := require.New(t)
	c := testCloudClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/site/12345/currentPowerFlow.json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		require.Equal("/site/12345/overview.json", r.URL.Path)
		w.Write([]byte(`{"overview":{"currentPower":{"power":1234.5}}}`))
	})

	snap, err := c.GetProduction(context.Background())
	require.NoError(err)
	require.InDelta(1234.5, snap.ProductionWatts, 0.001)
	require.False(snap.HasExport)
}

func TestCloudRejectsOutOfRangeProduction(t *testing.T) {
	require := require.New(t)
	c := testCloudClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/site/12345/currentPowerFlow.json" {
			w.Write([]byte(`{"siteCurrentPowerFlow":{"unit":"kW",` +
				`"PV":{"currentPower":99999.0}}}`))
			return
		}
		w.Write([]byte(`{"overview":{"currentPower":{"power":-10}}}`))
	})

	_, err := c.GetProduction(context.Background())
	require.Error(err)
	var invalid *domain.InvalidDataError
	require.ErrorAs(err, &invalid)
}
