package broker

import (
	"crypto/tls"
	"os"
	"strings"

	"github.com/tagoio/mqtt-relay/src/common/tlsconfig"
	"github.com/tagoio/mqtt-relay/src/config"
)

// readable demotes path to "" if it cannot be stat'd, so a broken PEM path
// falls through to the next TLS branch instead of failing the connect
// attempt (SPEC_FULL §4.2 "Failure semantics").
func readable(path string) string {
	if path == "" {
		return ""
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// tlsEnabled reports whether the broker connection should use TLS: either
// the config flag is set, or the address scheme says so (SPEC_FULL §4.2).
func tlsEnabled(mqttCfg config.MQTTConfig) bool {
	return mqttCfg.TLSEnabled || strings.HasPrefix(mqttCfg.Address, "ssl")
}

// buildTLSConfig implements the three-branch TLS selection named in
// SPEC_FULL §4.2: CA+cert+key gives mutual TLS, CA alone gives
// server-verification-only, and neither falls through to the system trust
// store. File read errors demote the corresponding path to empty rather than
// failing hard, so a broken CA path degrades to system roots instead of
// refusing to connect -- see the open question in SPEC_FULL §9 about why a
// nil RootCAs is "verify against system roots", not "no verification".
func buildTLSConfig(mqttCfg config.MQTTConfig) (*tls.Config, error) {
	ca := readable(mqttCfg.BrokerTLSCA)
	cert := readable(mqttCfg.BrokerTLSCert)
	key := readable(mqttCfg.BrokerTLSKey)

	if cert != "" && key == "" {
		cert = ""
	}
	if key != "" && cert == "" {
		key = ""
	}

	return tlsconfig.BuildBrokerTLSConfig(ca, cert, key, "1.2", "")
}
