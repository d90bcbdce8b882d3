package solaredge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/masontrang-dev/solar-charger/internal/config"
	"github.com/masontrang-dev/solar-charger/internal/core/domain"
	"github.com/masontrang-dev/solar-charger/internal/core/port"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

const defaultCloudBaseURL = "https://monitoringapi.solaredge.com"

// CloudClient reads production and export from the SolarEdge monitoring API.
// It prefers currentPowerFlow (which carries the meter flow and therefore the
// export figure) and falls back to the overview endpoint, which only knows
// raw production.
type CloudClient struct {
	http    *retryablehttp.Client
	baseURL string
	apiKey  string
	siteId  string
	logger  *zap.Logger
}

func NewCloudClient(cfg config.SolarEdgeCloudConfig, logger *zap.Logger) *CloudClient {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 8 * time.Second
	client.HTTPClient.Timeout = 10 * time.Second
	client.Logger = nil

	return &CloudClient{
		http:    client,
		baseURL: defaultCloudBaseURL,
		apiKey:  cfg.ApiKey,
		siteId:  cfg.SiteId,
		logger:  logger.With(zap.String("client", "solaredge_cloud")),
	}
}

type powerFlowResponse struct {
	SiteCurrentPowerFlow struct {
		Unit string `json:"unit"`
		Grid struct {
			CurrentPower *float64 `json:"currentPower"`
		} `json:"GRID"`
		PV struct {
			CurrentPower *float64 `json:"currentPower"`
		} `json:"PV"`
	} `json:"siteCurrentPowerFlow"`
}

type overviewResponse struct {
	Overview struct {
		CurrentPower struct {
			Power *float64 `json:"power"`
		} `json:"currentPower"`
	} `json:"overview"`
}

func (c *CloudClient) GetProduction(ctx context.Context) (*domain.ProductionSnapshot, error) {
	snapshot, err := c.getPowerFlow(ctx)
	if err == nil {
		return snapshot, nil
	}
	if domain.IsAuthExpired(err) {
		return nil, err
	}
	c.logger.Warn("currentPowerFlow failed, falling back to overview", zap.Error(err))
	return c.getOverview(ctx)
}

func (c *CloudClient) getPowerFlow(ctx context.Context) (*domain.ProductionSnapshot, error) {
	var parsed powerFlowResponse
	if err := c.get(ctx, fmt.Sprintf("/site/%s/currentPowerFlow.json", c.siteId), &parsed); err != nil {
		return nil, err
	}

	pv := parsed.SiteCurrentPowerFlow.PV.CurrentPower
	grid := parsed.SiteCurrentPowerFlow.Grid.CurrentPower
	if pv == nil {
		return nil, &domain.InvalidDataError{Field: "PV.currentPower", Reason: "missing"}
	}

	// currentPowerFlow reports kW; grid power is positive on import,
	// negative on export
	snapshot := &domain.ProductionSnapshot{
		ProductionWatts: *pv * 1000,
		Source:          "solaredge_cloud",
		Timestamp:       time.Now(),
	}
	if grid != nil {
		snapshot.HasExport = true
		snapshot.ExportWatts = math.Max(0, -*grid*1000)
	}
	if err := validateProduction(snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (c *CloudClient) getOverview(ctx context.Context) (*domain.ProductionSnapshot, error) {
	var parsed overviewResponse
	if err := c.get(ctx, fmt.Sprintf("/site/%s/overview.json", c.siteId), &parsed); err != nil {
		return nil, err
	}
	power := parsed.Overview.CurrentPower.Power
	if power == nil {
		return nil, &domain.InvalidDataError{Field: "overview.currentPower", Reason: "missing"}
	}
	snapshot := &domain.ProductionSnapshot{
		ProductionWatts: *power,
		Source:          "solaredge_cloud",
		Timestamp:       time.Now(),
	}
	if err := validateProduction(snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (c *CloudClient) get(ctx context.Context, path string, out any) error {
	url := fmt.Sprintf("%s%s?api_key=%s", c.baseURL, path, c.apiKey)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &domain.TransientNetworkError{Op: "solaredge " + path, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &domain.AuthExpiredError{Err: fmt.Errorf("solaredge returned %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return &domain.TransientNetworkError{Op: "solaredge " + path,
			Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.TransientNetworkError{Op: "solaredge " + path, Err: err}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &domain.InvalidDataError{Field: path, Reason: err.Error()}
	}
	return nil
}

func validateProduction(s *domain.ProductionSnapshot) error {
	if s.ProductionWatts < 0 || s.ProductionWatts > 1_000_000 {
		return &domain.InvalidDataError{Field: "production_watts",
			Reason: fmt.Sprintf("out of range: %f", s.ProductionWatts)}
	}
	if s.HasExport && (s.ExportWatts < 0 || s.ExportWatts > 1_000_000) {
		return &domain.InvalidDataError{Field: "export_watts",
			Reason: fmt.Sprintf("out of range: %f", s.ExportWatts)}
	}
	return nil
}

// ensure interface compliance
var _ port.TelemetrySource = (*CloudClient)(nil)
