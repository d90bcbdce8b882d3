package tesla

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/masontrang-dev/solar-charger/internal/config"
	"github.com/masontrang-dev/solar-charger/internal/core/domain"
	"github.com/masontrang-dev/solar-charger/internal/core/port"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// Client talks to the Tesla Fleet API. Reads and the wake call go to the
// fleet base URL; signed commands go through the local HTTP proxy, which
// terminates TLS with a self-signed certificate.
type Client struct {
	read     *retryablehttp.Client
	command  *http.Client
	baseURL  string
	proxyURL string
	token    string
	vin      string
	logger   *zap.Logger
}

func NewClient(cfg config.TeslaConfig, logger *zap.Logger) *Client {
	read := retryablehttp.NewClient()
	read.RetryMax = 2
	read.RetryWaitMin = 1 * time.Second
	read.RetryWaitMax = 8 * time.Second
	read.HTTPClient.Timeout = 15 * time.Second
	read.Logger = nil
	// wake retries are paced by the control loop, not the transport
	read.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if resp != nil && resp.StatusCode == http.StatusRequestTimeout {
			return false, nil
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}

	command := &http.Client{
		Timeout: 15 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}

	return &Client{
		read:     read,
		command:  command,
		baseURL:  cfg.Api.BaseURL,
		proxyURL: cfg.Api.ProxyURL,
		token:    cfg.Api.AccessToken,
		vin:      cfg.VIN,
		logger:   logger.With(zap.String("client", "tesla")),
	}
}

type vehicleListResponse struct {
	Response []struct {
		VIN   string `json:"vin"`
		State string `json:"state"`
	} `json:"response"`
}

type vehicleDataResponse struct {
	Response struct {
		ChargeState struct {
			BatteryLevel        *int    `json:"battery_level"`
			ChargingState       string  `json:"charging_state"`
			ChargeAmps          int     `json:"charge_amps"`
			ChargeCurrentReqMax int     `json:"charge_current_request_max"`
			ChargerVoltage      float64 `json:"charger_voltage"`
		} `json:"charge_state"`
	} `json:"response"`
}

type commandResponse struct {
	Response struct {
		Result bool   `json:"result"`
		Reason string `json:"reason"`
	} `json:"response"`
}

// GetState first checks the vehicle list, which never wakes the car. An
// asleep vehicle yields a minimal snapshot instead of a vehicle_data call
// that would either fail or wake it.
func (c *Client) GetState(ctx context.Context) (*domain.VehicleSnapshot, error) {
	state, err := c.vehicleListState(ctx)
	if err != nil {
		return nil, err
	}
	if state != "online" {
		return &domain.VehicleSnapshot{
			Asleep:    true,
			Timestamp: time.Now(),
		}, nil
	}
	return c.vehicleData(ctx)
}

func (c *Client) vehicleListState(ctx context.Context) (string, error) {
	body, err := c.get(ctx, c.baseURL+"/api/1/vehicles")
	if err != nil {
		return "", err
	}
	var parsed vehicleListResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &domain.InvalidDataError{Field: "vehicles", Reason: err.Error()}
	}
	for _, v := range parsed.Response {
		if v.VIN == c.vin {
			return v.State, nil
		}
	}
	return "", &domain.InvalidDataError{Field: "vehicles", Reason: "vin not in account"}
}

func (c *Client) vehicleData(ctx context.Context) (*domain.VehicleSnapshot, error) {
	body, err := c.get(ctx, c.baseURL+"/api/1/vehicles/"+c.vin+"/vehicle_data?endpoints=charge_state")
	if err != nil {
		return nil, err
	}
	var parsed vehicleDataResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &domain.InvalidDataError{Field: "vehicle_data", Reason: err.Error()}
	}
	cs := parsed.Response.ChargeState
	if cs.BatteryLevel == nil {
		return nil, &domain.InvalidDataError{Field: "charge_state.battery_level", Reason: "missing"}
	}
	if *cs.BatteryLevel < 0 || *cs.BatteryLevel > 100 {
		return nil, &domain.InvalidDataError{Field: "charge_state.battery_level",
			Reason: fmt.Sprintf("out of range: %d", *cs.BatteryLevel)}
	}
	return &domain.VehicleSnapshot{
		SOC:            *cs.BatteryLevel,
		PluggedIn:      cs.ChargingState != "Disconnected",
		Charging:       cs.ChargingState == "Charging",
		ChargeAmps:     cs.ChargeAmps,
		MaxAmps:        cs.ChargeCurrentReqMax,
		ChargerVoltage: int(cs.ChargerVoltage),
		Timestamp:      time.Now(),
	}, nil
}

func (c *Client) StartCharging(ctx context.Context) error {
	return c.sendCommand(ctx, "charge_start", nil)
}

func (c *Client) StopCharging(ctx context.Context) error {
	return c.sendCommand(ctx, "charge_stop", nil)
}

func (c *Client) SetChargingAmps(ctx context.Context, amps int) error {
	return c.sendCommand(ctx, "set_charging_amps", map[string]any{"charging_amps": amps})
}

// Wake goes through the fleet API directly. It returns as soon as the wake
// has been accepted; the caller polls until the vehicle is online.
func (c *Client) Wake(ctx context.Context) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/1/vehicles/"+c.vin+"/wake_up", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.read.Do(req)
	if err != nil {
		return &domain.TransientNetworkError{Op: "tesla wake_up", Err: err}
	}
	defer resp.Body.Close()
	return c.checkStatus("wake_up", resp.StatusCode)
}

func (c *Client) sendCommand(ctx context.Context, command string, payload map[string]any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.proxyURL+"/api/1/vehicles/"+c.vin+"/command/"+command, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.command.Do(req)
	if err != nil {
		return &domain.TransientNetworkError{Op: "tesla " + command, Err: err}
	}
	defer resp.Body.Close()

	if err := c.checkStatus(command, resp.StatusCode); err != nil {
		return err
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.TransientNetworkError{Op: "tesla " + command, Err: err}
	}
	var parsed commandResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return &domain.InvalidDataError{Field: command, Reason: err.Error()}
	}
	if !parsed.Response.Result {
		return fmt.Errorf("tesla %s rejected: %s", command, parsed.Response.Reason)
	}
	return nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.read.Do(req)
	if err != nil {
		return nil, &domain.TransientNetworkError{Op: "tesla get", Err: err}
	}
	defer resp.Body.Close()
	if err := c.checkStatus("get", resp.StatusCode); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.TransientNetworkError{Op: "tesla get", Err: err}
	}
	return body, nil
}

func (c *Client) checkStatus(op string, status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &domain.AuthExpiredError{Err: fmt.Errorf("tesla %s returned %d", op, status)}
	case status == http.StatusRequestTimeout:
		// the fleet API uses 408 for "vehicle unavailable"
		return &domain.DeviceAsleepError{Op: "tesla " + op}
	case status >= 500 || status == http.StatusTooManyRequests:
		return &domain.TransientNetworkError{Op: "tesla " + op,
			Err: fmt.Errorf("status %d", status)}
	case status != http.StatusOK:
		return fmt.Errorf("tesla %s: unexpected status %d", op, status)
	}
	return nil
}

var _ port.VehicleGateway = (*Client)(nil)
