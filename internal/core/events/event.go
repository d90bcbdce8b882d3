package events

// Sensor ids published over the status event stream.
const (
	SENSOR_ID_PRODUCTION_WATTS = "production_watts"
	SENSOR_ID_EXPORT_WATTS     = "export_watts"
	SENSOR_ID_VEHICLE_SOC      = "vehicle_soc"
	SENSOR_ID_CHARGE_AMPS      = "charge_amps"
	SENSOR_ID_CHARGING         = "charging"
	SENSOR_ID_PLUGGED_IN       = "plugged_in"
	SENSOR_ID_CONTROL_MODE     = "control_mode"
	SENSOR_ID_LAST_INTENT      = "last_intent"
	SENSOR_ID_POLL_TIER        = "poll_tier"
	SENSOR_ID_BUDGET_USED      = "budget_used"
)

type GenericStatusEvent struct {
	Id string
}

type FloatStatusEvent struct {
	GenericStatusEvent
	Value    float64
	Decimals uint
}

type IntStatusEvent struct {
	GenericStatusEvent
	Value int64
}

type BoolStatusEvent struct {
	GenericStatusEvent
	Value bool
}

type TextStatusEvent struct {
	GenericStatusEvent
	Value string
}

type BridgeStateEvent struct {
	Online bool
}
