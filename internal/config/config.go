package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel zapcore.Level
	DryRun   bool `mapstructure:"dry_run"`
	Port     uint `mapstructure:"port"`
	HttpLog  bool `mapstructure:"http_log"`

	SolarEdge SolarEdgeConfig `mapstructure:"solaredge"`
	Tesla     TeslaConfig     `mapstructure:"tesla"`
	Control   ControlConfig   `mapstructure:"control"`
	Polling   PollingConfig   `mapstructure:"polling"`
	Budget    BudgetConfig    `mapstructure:"budget"`
	Cache     CacheConfig     `mapstructure:"cache"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Sessions  SessionsConfig  `mapstructure:"sessions"`
}

type SolarEdgeConfig struct {
	Source string                `mapstructure:"source"` // cloud or modbus
	Cloud  SolarEdgeCloudConfig  `mapstructure:"cloud"`
	Modbus SolarEdgeModbusConfig `mapstructure:"modbus"`
}

type SolarEdgeCloudConfig struct {
	ApiKey string `mapstructure:"api_key"`
	SiteId string `mapstructure:"site_id"`
}

type SolarEdgeModbusConfig struct {
	Host   string `mapstructure:"host"`
	Port   uint   `mapstructure:"port"`
	UnitId uint   `mapstructure:"unit_id"`
}

type TeslaConfig struct {
	VIN             string         `mapstructure:"vin"`
	ChargingVoltage float64        `mapstructure:"charging_voltage"`
	Api             TeslaApiConfig `mapstructure:"api"`
}

type TeslaApiConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	ProxyURL    string `mapstructure:"proxy_url"`
	AccessToken string `mapstructure:"access_token"`
}

type ControlConfig struct {
	Mode                 string         `mapstructure:"mode"` // threshold or dynamic
	StartExportWatts     float64        `mapstructure:"start_export_watts"`
	StopExportWatts      float64        `mapstructure:"stop_export_watts"`
	MinOnSeconds         uint           `mapstructure:"min_on_seconds"`
	MinOffSeconds        uint           `mapstructure:"min_off_seconds"`
	MaxSOC               int            `mapstructure:"max_soc"`
	WakeThresholdPercent float64        `mapstructure:"wake_threshold_percent"`
	HouseholdLoadWatts   float64        `mapstructure:"household_load_watts"`
	Dynamic              DynamicConfig  `mapstructure:"dynamic"`
	Daytime              DaytimeConfig  `mapstructure:"daytime"`
}

type DynamicConfig struct {
	MinAmps      int   `mapstructure:"min_amps"`
	MaxAmps      int   `mapstructure:"max_amps"`
	MinStartAmps int   `mapstructure:"min_start_amps"`
	AmpSteps     []int `mapstructure:"amp_steps"`
}

type DaytimeConfig struct {
	Enable           bool    `mapstructure:"enable"`
	Latitude         float64 `mapstructure:"latitude"`
	Longitude        float64 `mapstructure:"longitude"`
	SunriseOffsetMin int     `mapstructure:"sunrise_offset_min"`
	SunsetOffsetMin  int     `mapstructure:"sunset_offset_min"`
}

type PollingConfig struct {
	FastSeconds        uint    `mapstructure:"fast_seconds"`
	MediumSeconds      uint    `mapstructure:"medium_seconds"`
	SlowSeconds        uint    `mapstructure:"slow_seconds"`
	NearThresholdWatts float64 `mapstructure:"near_threshold_watts"`
}

func (p PollingConfig) Fast() time.Duration   { return time.Duration(p.FastSeconds) * time.Second }
func (p PollingConfig) Medium() time.Duration { return time.Duration(p.MediumSeconds) * time.Second }
func (p PollingConfig) Slow() time.Duration   { return time.Duration(p.SlowSeconds) * time.Second }

type BudgetConfig struct {
	DailyCallCeiling uint   `mapstructure:"daily_call_ceiling"`
	Timezone         string `mapstructure:"timezone"`
}

// Location resolves the budget window timezone. The quota provider counts
// calls per calendar day in this zone, so it must match the account's zone
// rather than whatever the container happens to run in.
func (b BudgetConfig) Location() (*time.Location, error) {
	if b.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(b.Timezone)
}

type CacheConfig struct {
	ProductionStaleSeconds uint `mapstructure:"production_stale_seconds"`
	VehicleStaleSeconds    uint `mapstructure:"vehicle_stale_seconds"`
}

type MQTTConfig struct {
	Enable    bool   `mapstructure:"enable"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	BaseTopic string `mapstructure:"base_topic"`
}

type SessionsConfig struct {
	Path string `mapstructure:"path"`
}

// Validate runs the fatal startup checks. A malformed configuration aborts
// before the control loop starts; nothing here is recoverable at runtime.
func Validate(cfg *Config) error {
	if cfg.Control.Mode != "threshold" && cfg.Control.Mode != "dynamic" {
		return fmt.Errorf("config param control.mode must be threshold or dynamic, got %q", cfg.Control.Mode)
	}
	if cfg.Control.StartExportWatts <= cfg.Control.StopExportWatts {
		return errors.New("config param control.start_export_watts must be > control.stop_export_watts")
	}
	if cfg.Control.MaxSOC <= 0 || cfg.Control.MaxSOC > 100 {
		return errors.New("config param control.max_soc must be in (0, 100]")
	}
	if cfg.Control.WakeThresholdPercent <= 0 || cfg.Control.WakeThresholdPercent >= 1 {
		return errors.New("config param control.wake_threshold_percent must be in (0, 1)")
	}
	if cfg.Polling.FastSeconds < 5 {
		return errors.New("config param polling.fast_seconds should be >= 5")
	}
	if cfg.Polling.FastSeconds >= cfg.Polling.MediumSeconds || cfg.Polling.MediumSeconds >= cfg.Polling.SlowSeconds {
		return errors.New("config params polling.{fast,medium,slow}_seconds must be strictly ascending")
	}
	if cfg.Budget.DailyCallCeiling == 0 {
		return errors.New("config param budget.daily_call_ceiling must be > 0")
	}
	if _, err := cfg.Budget.Location(); err != nil {
		return fmt.Errorf("config param budget.timezone: %w", err)
	}
	if cfg.Control.Mode == "dynamic" {
		d := cfg.Control.Dynamic
		if len(d.AmpSteps) == 0 {
			return errors.New("config param control.dynamic.amp_steps must not be empty")
		}
		for i := 1; i < len(d.AmpSteps); i++ {
			if d.AmpSteps[i] <= d.AmpSteps[i-1] {
				return errors.New("config param control.dynamic.amp_steps must be strictly ascending")
			}
		}
		if d.MinAmps > d.MaxAmps {
			return errors.New("config param control.dynamic.min_amps must be <= max_amps")
		}
		if d.MinStartAmps < d.MinAmps {
			return errors.New("config param control.dynamic.min_start_amps must be >= min_amps")
		}
		if cfg.Tesla.ChargingVoltage <= 0 {
			return errors.New("config param tesla.charging_voltage must be > 0 in dynamic mode")
		}
	}
	if cfg.SolarEdge.Source != "cloud" && cfg.SolarEdge.Source != "modbus" {
		return fmt.Errorf("config param solaredge.source must be cloud or modbus, got %q", cfg.SolarEdge.Source)
	}
	if cfg.MQTT.Enable {
		if _, err := CheckMQTTTopic(cfg.MQTT.BaseTopic); err != nil {
			return errors.New("invalid mqtt.base_topic. can only contain letters, numbers and underscores")
		}
	}
	return nil
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}
