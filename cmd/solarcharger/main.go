package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	adactor "github.com/masontrang-dev/solar-charger/internal/adapter/actor"
	"github.com/masontrang-dev/solar-charger/internal/adapter/daytime"
	"github.com/masontrang-dev/solar-charger/internal/adapter/session"
	"github.com/masontrang-dev/solar-charger/internal/adapter/solaredge"
	"github.com/masontrang-dev/solar-charger/internal/adapter/tesla"
	"github.com/masontrang-dev/solar-charger/internal/config"
	"github.com/masontrang-dev/solar-charger/internal/core/actor"
	"github.com/masontrang-dev/solar-charger/internal/core/domain"
	"github.com/masontrang-dev/solar-charger/internal/core/port"
	"github.com/masontrang-dev/solar-charger/internal/core/service"
	"github.com/masontrang-dev/solar-charger/internal/server"
	"github.com/masontrang-dev/solar-charger/internal/util/actorutil"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/carlmjohnson/versioninfo"
	"github.com/reugn/go-quartz/job"
	"github.com/reugn/go-quartz/quartz"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		return
	}
	safePrintConfig(*cfg)
	slog.Info("solar-charger", "version", versioninfo.Short())

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	// session store
	sessions, err := sessionStore(cfg, logger)
	if err != nil {
		logger.Fatal("could not open session store", zap.Error(err))
	}
	defer sessions.Close()

	// vendor adapters
	telemetry, err := telemetrySource(cfg, logger)
	if err != nil {
		logger.Fatal("could not init telemetry source", zap.Error(err))
	}
	vehicle := tesla.NewClient(cfg.Tesla, logger)

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterActor(*cfg,
			vendorActorProvider(telemetry, vehicle, logger),
			controlLoopProvider(cfg, sessions, logger),
			mqttActorProvider(cfg, logger),
			logger)
	})
	pid, err := ctx.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	if err != nil {
		return
	}

	// daily budget rollover job
	sched := quartz.NewStdScheduler()
	schedCtx, cancelSched := context.WithCancel(context.Background())
	defer cancelSched()
	sched.Start(schedCtx)
	if err := scheduleBudgetRollover(sched, ctx, pid); err != nil {
		logger.Fatal("could not schedule budget rollover", zap.Error(err))
	}

	server := server.NewServer(*cfg, ctx, pid)
	done := make(chan bool, 1)

	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	sched.Stop()
	ctx.Stop(pid)
	as.Shutdown()
}

func scheduleBudgetRollover(sched quartz.Scheduler, ctx *pactor.RootContext, masterPID *pactor.PID) error {
	trigger, err := quartz.NewCronTrigger("0 0 0 * * ?")
	if err != nil {
		return err
	}
	rolloverJob := job.NewFunctionJob(func(_ context.Context) (int, error) {
		ctx.Send(masterPID, domain.BudgetRolloverRequest{})
		return 0, nil
	})
	return sched.ScheduleJob(quartz.NewJobDetail(rolloverJob, quartz.NewJobKey("budget_rollover")), trigger)
}

func telemetrySource(cfg *config.Config, logger *zap.Logger) (port.TelemetrySource, error) {
	switch cfg.SolarEdge.Source {
	case "modbus":
		return solaredge.NewModbusReader(cfg.SolarEdge.Modbus, logger)
	default:
		return solaredge.NewCloudClient(cfg.SolarEdge.Cloud, logger), nil
	}
}

func sessionStore(cfg *config.Config, logger *zap.Logger) (port.SessionStore, error) {
	if cfg.Sessions.Path == "" {
		return session.NoopStore{}, nil
	}
	return session.NewSQLiteStore(cfg.Sessions.Path, logger)
}

func vendorActorProvider(telemetry port.TelemetrySource, vehicle port.VehicleGateway, logger *zap.Logger) actor.VendorActorProvider {
	return func() *adactor.VendorActor {
		return adactor.NewVendorActor(telemetry, vehicle, logger)
	}
}

func controlLoopProvider(cfg *config.Config, sessions port.SessionStore, logger *zap.Logger) actor.ControlLoopProvider {
	// resolution already checked by config.Validate
	loc, _ := cfg.Budget.Location()
	budget := service.NewCallBudget(cfg.Budget.DailyCallCeiling, loc, logger)
	cache := service.NewSnapshotCache(
		time.Duration(cfg.Cache.ProductionStaleSeconds)*time.Second,
		time.Duration(cfg.Cache.VehicleStaleSeconds)*time.Second)
	planner := &service.PollPlanner{
		Fast:             cfg.Polling.Fast(),
		Medium:           cfg.Polling.Medium(),
		Slow:             cfg.Polling.Slow(),
		NearThresholdW:   cfg.Polling.NearThresholdWatts,
		StartExportWatts: cfg.Control.StartExportWatts,
		Logger:           logger,
	}
	controller := &service.ChargeController{
		Mode:                 service.ControlMode(cfg.Control.Mode),
		StartExportWatts:     cfg.Control.StartExportWatts,
		StopExportWatts:      cfg.Control.StopExportWatts,
		MinOn:                time.Duration(cfg.Control.MinOnSeconds) * time.Second,
		MinOff:               time.Duration(cfg.Control.MinOffSeconds) * time.Second,
		MaxSOC:               cfg.Control.MaxSOC,
		WakeThresholdPercent: cfg.Control.WakeThresholdPercent,
		HouseholdLoadWatts:   cfg.Control.HouseholdLoadWatts,
		ChargingVoltage:      cfg.Tesla.ChargingVoltage,
		Dynamic: service.DynamicParams{
			MinAmps:      cfg.Control.Dynamic.MinAmps,
			MaxAmps:      cfg.Control.Dynamic.MaxAmps,
			MinStartAmps: cfg.Control.Dynamic.MinStartAmps,
			AmpSteps:     cfg.Control.Dynamic.AmpSteps,
		},
		Logger: logger,
	}
	dt := daytime.NewProvider(cfg.Control.Daytime)

	return func(vendorActor *pactor.PID, es *eventstream.EventStream) *actor.ControlLoopActor {
		return actor.NewControlLoopActor(cfg, actor.ControlLoopDeps{
			VendorActor: vendorActor,
			Controller:  controller,
			Budget:      budget,
			Cache:       cache,
			Planner:     planner,
			Daytime:     dt,
			Sessions:    sessions,
			EventStream: es,
		}, logger)
	}
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	return func(es *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, es, logger)
	}
}

func initConfig() (*config.Config, error) {

	// alias PORT => SOLARCHARGER_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("SOLARCHARGER_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("solarcharger")
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	if err := config.Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "info")
	viper.SetDefault("port", 8080)
	viper.SetDefault("dry_run", false)
	viper.SetDefault("http_log", false)
	viper.SetDefault("solaredge.source", "cloud")
	viper.SetDefault("solaredge.modbus.port", 1502)
	viper.SetDefault("solaredge.modbus.unit_id", 1)
	viper.SetDefault("tesla.charging_voltage", 230)
	viper.SetDefault("tesla.api.base_url", "https://fleet-api.prd.na.vn.cloud.tesla.com")
	viper.SetDefault("control.mode", "threshold")
	viper.SetDefault("control.start_export_watts", 1500)
	viper.SetDefault("control.stop_export_watts", 500)
	viper.SetDefault("control.min_on_seconds", 600)
	viper.SetDefault("control.min_off_seconds", 300)
	viper.SetDefault("control.max_soc", 80)
	viper.SetDefault("control.wake_threshold_percent", 0.8)
	viper.SetDefault("control.household_load_watts", 0)
	viper.SetDefault("control.dynamic.min_amps", 5)
	viper.SetDefault("control.dynamic.max_amps", 16)
	viper.SetDefault("control.dynamic.min_start_amps", 6)
	viper.SetDefault("control.dynamic.amp_steps", []int{5, 6, 8, 10, 13, 16})
	viper.SetDefault("polling.fast_seconds", 30)
	viper.SetDefault("polling.medium_seconds", 120)
	viper.SetDefault("polling.slow_seconds", 600)
	viper.SetDefault("polling.near_threshold_watts", 400)
	viper.SetDefault("budget.daily_call_ceiling", 180)
	viper.SetDefault("cache.production_stale_seconds", 120)
	viper.SetDefault("cache.vehicle_stale_seconds", 600)
	viper.SetDefault("mqtt.enable", false)
	viper.SetDefault("mqtt.port", 1883)
	viper.SetDefault("mqtt.base_topic", "solarcharger")
	viper.SetDefault("control.daytime.enable", false)
	viper.SetDefault("control.daytime.sunrise_offset_min", 0)
	viper.SetDefault("control.daytime.sunset_offset_min", 0)
	viper.SetDefault("sessions.path", "")
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	cfg.Tesla.Api.AccessToken = "*redacted*"
	cfg.SolarEdge.Cloud.ApiKey = "*redacted*"
	slog.Info("Using", "config", cfg)
}
