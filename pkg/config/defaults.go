package config

const (
	defaultGatewayListen   = ":8080"
	defaultAPIListen       = ":8081"
	defaultBackendEndpoint = "http://localhost:9090/invocations"

	defaultLivenessTick      = "5s"
	defaultLivenessInterval  = "30s"
	defaultProgressTick      = "3s"
	defaultProgressInterval  = "10s"
	defaultMaxStreamDuration = "300s"

	defaultLedgerDriver = "memory"

	defaultEventsTopic = "relay.stream.completed"
)

func defaultEventsBrokers() []string {
	return []string{"localhost:9092"}
}

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Gateway: GatewayConfig{
			Listen: defaultGatewayListen,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		Backend: BackendConfig{
			Endpoint: defaultBackendEndpoint,
		},
		Liveness: LivenessConfig{
			LivenessTick:      defaultLivenessTick,
			LivenessInterval:  defaultLivenessInterval,
			ProgressTick:      defaultProgressTick,
			ProgressInterval:  defaultProgressInterval,
			MaxStreamDuration: defaultMaxStreamDuration,
		},
		Ledger: LedgerConfig{
			Driver: defaultLedgerDriver,
		},
		Events: EventsConfig{
			Enabled: false,
			Brokers: defaultEventsBrokers(),
			Topic:   defaultEventsTopic,
		},
	}
}
