package config

// PlatformConfig holds the credentials and endpoint for the TagoIO Platform API.
type PlatformConfig struct {
	NetworkToken       string `koanf:"network_token" validate:"required"`
	AuthorizationToken string `koanf:"authorization_token" validate:"required"`
	TagoIOURL          string `koanf:"tagoio_url" validate:"required,url"`
	DownlinkPort       int    `koanf:"downlink_port" validate:"required,min=1,max=65535"`
	UnsafeMode         bool   `koanf:"unsafe_mode"`
}

// MQTTConfig holds the customer broker connection parameters.
type MQTTConfig struct {
	ClientID      string   `koanf:"client_id" validate:"required"`
	TLSEnabled    bool     `koanf:"tls_enabled"`
	Address       string   `koanf:"address" validate:"required"`
	Port          int      `koanf:"port" validate:"required,min=1,max=65535"`
	Subscribe     []string `koanf:"subscribe"`
	Username      string   `koanf:"username"`
	Password      string   `koanf:"password" validate:"required_with=Username"`
	BrokerTLSCA   string   `koanf:"broker_tls_ca"`
	BrokerTLSCert string   `koanf:"broker_tls_cert" validate:"required_with=BrokerTLSKey"`
	BrokerTLSKey  string   `koanf:"broker_tls_key" validate:"required_with=BrokerTLSCert"`
}

// RelayConfig is the fully resolved, validated configuration for one relay
// instance. It is built once by Load and shared read-only by every component;
// the only field mutated after load is NetworkID, which the Supervisor fills
// in synchronously during startup verification, before any session goroutine
// is started.
type RelayConfig struct {
	ID        string `koanf:"id" validate:"required"`
	ProfileID string `koanf:"profile_id"`
	NetworkID string `koanf:"-"`

	Platform PlatformConfig `koanf:"platform" validate:"required"`
	MQTT     MQTTConfig     `koanf:"mqtt" validate:"required"`
}

// fileConfig is the shape koanf decodes the TOML document (and env
// overrides) into, under the top-level "relay" table named in SPEC_FULL §6.
type fileConfig struct {
	Relay RelayConfig `koanf:"relay"`
}

// defaultRelayConfig returns the defaults named in SPEC_FULL §3. It backs
// both the template `init` writes to disk and the base layer `Load` seeds
// the koanf tree with before the config file and environment overlays are
// applied, so an operator-supplied document may omit any of these fields.
func defaultRelayConfig() fileConfig {
	return fileConfig{
		Relay: RelayConfig{
			ID: "self-hosted",
			Platform: PlatformConfig{
				TagoIOURL:    "https://api.tago.io",
				DownlinkPort: 3000,
			},
			MQTT: MQTTConfig{
				ClientID: "tagoio-relay",
				Port:     8883,
			},
		},
	}
}
