package server

import (
	"net/http"
	"time"

	"github.com/masontrang-dev/solar-charger/internal/core/domain"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/api/status", s.StatusHandler)
	e.POST("/api/control/start", s.controlHandler(domain.ManualStartRequest{}))
	e.POST("/api/control/stop", s.controlHandler(domain.ManualStopRequest{}))
	e.POST("/api/control/wake", s.controlHandler(domain.ManualWakeRequest{}))
	e.POST("/api/control/amps", s.SetAmpsHandler)

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

type statusDTO struct {
	Mode            string     `json:"mode"`
	Amps            int        `json:"amps"`
	DryRun          bool       `json:"dry_run"`
	LastIntent      string     `json:"last_intent"`
	LastReason      string     `json:"last_reason,omitempty"`
	PollAction      string     `json:"poll_action"`
	PollTier        string     `json:"poll_tier"`
	NextPollAt      *time.Time `json:"next_poll_at,omitempty"`
	BudgetUsed      uint       `json:"budget_used"`
	BudgetCeiling   uint       `json:"budget_ceiling"`
	ProductionWatts *float64   `json:"production_watts,omitempty"`
	ExportWatts     *float64   `json:"export_watts,omitempty"`
	VehicleSOC      *int       `json:"vehicle_soc,omitempty"`
	PluggedIn       *bool      `json:"plugged_in,omitempty"`
	Charging        *bool      `json:"charging,omitempty"`
}

type controlResultDTO struct {
	Applied bool   `json:"applied"`
	Reason  string `json:"reason,omitempty"`
}

func (s *Server) StatusHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.StatusRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "status: FAIL")
	}
	status, ok := res.(domain.StatusResponse)
	if !ok {
		return c.String(http.StatusInternalServerError, "status: unexpected response")
	}

	dto := statusDTO{
		Mode:          status.State.Mode.String(),
		Amps:          status.State.Amps,
		DryRun:        status.DryRun,
		LastIntent:    status.LastIntent.Kind.String(),
		LastReason:    status.LastIntent.Reason,
		PollAction:    status.LastPlan.Action.String(),
		PollTier:      status.LastPlan.Tier.String(),
		BudgetUsed:    status.BudgetUsed,
		BudgetCeiling: status.BudgetCeiling,
	}
	if !status.NextPollAt.IsZero() {
		dto.NextPollAt = &status.NextPollAt
	}
	if status.Production != nil {
		dto.ProductionWatts = &status.Production.Snapshot.ProductionWatts
		if status.Production.Snapshot.HasExport {
			dto.ExportWatts = &status.Production.Snapshot.ExportWatts
		}
	}
	if status.Vehicle != nil {
		dto.VehicleSOC = &status.Vehicle.Snapshot.SOC
		dto.PluggedIn = &status.Vehicle.Snapshot.PluggedIn
		dto.Charging = &status.Vehicle.Snapshot.Charging
	}
	return c.JSON(http.StatusOK, dto)
}

func (s *Server) controlHandler(req domain.ControlRequest) echo.HandlerFunc {
	return func(c echo.Context) error {
		return s.sendControl(c, req)
	}
}

type setAmpsBody struct {
	Amps int `json:"amps"`
}

func (s *Server) SetAmpsHandler(c echo.Context) error {
	var body setAmpsBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, controlResultDTO{Applied: false, Reason: "invalid_body"})
	}
	return s.sendControl(c, domain.ManualSetAmpsRequest{Amps: body.Amps})
}

func (s *Server) sendControl(c echo.Context, req domain.ControlRequest) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, req, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "control: FAIL")
	}
	response, ok := res.(domain.ControlCommandResponse)
	if !ok {
		return c.String(http.StatusInternalServerError, "control: unexpected response")
	}
	code := http.StatusOK
	if !response.Applied {
		code = http.StatusConflict
	}
	return c.JSON(code, controlResultDTO{Applied: response.Applied, Reason: response.Reason})
}
