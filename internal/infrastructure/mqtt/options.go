package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-registry/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second

	// disconnectQuiesce is how long Disconnect waits for in-flight work, in ms.
	disconnectQuiesce = 1000

	keepAlive = 30 * time.Second

	defaultReconnectInitial = time.Second
	defaultReconnectMax     = time.Minute

	maxQoS        = 2
	tlsMinVersion = tls.VersionTLS12

	// ServiceName is reported in system status messages and is the client
	// ID when none is configured.
	ServiceName = "graylogic-registry"
)

// System status values.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Reasons attached to offline status messages.
const (
	ReasonShutdown   = "graceful_shutdown"
	ReasonConnection = "unexpected_disconnect"
)

// Identity names this registry instance in system status messages.
type Identity struct {
	Site    string
	Version string
}

// SystemStatusMessage is the retained payload of the system status topic.
// The broker publishes the offline variant as the will if the registry
// drops off without closing.
type SystemStatusMessage struct {
	Status   string    `json:"status"`
	Service  string    `json:"service"`
	Site     string    `json:"site,omitempty"`
	Version  string    `json:"version,omitempty"`
	ClientID string    `json:"client_id"`
	Reason   string    `json:"reason,omitempty"`
	Since    time.Time `json:"since"`
}

// encode never fails: the message holds only strings and a time.
func (m SystemStatusMessage) encode() []byte {
	data, _ := json.Marshal(m)
	return data
}

// buildClientOptions maps the registry's MQTT config onto paho options. The
// registry only publishes, so sessions are clean and nothing subscribes.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	initial, maxDelay := reconnectDelays(cfg.Reconnect)

	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)).
		SetClientID(clientID(cfg)).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(initial).
		SetMaxReconnectInterval(maxDelay).
		SetConnectTimeout(defaultConnectTimeout).
		SetKeepAlive(keepAlive)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}
	return opts
}

func clientID(cfg config.MQTTConfig) string {
	if cfg.Broker.ClientID != "" {
		return cfg.Broker.ClientID
	}
	return ServiceName
}

// reconnectDelays converts the configured seconds, falling back to defaults
// for unset values and never letting the ceiling sit below the first delay.
func reconnectDelays(rc config.MQTTReconnectConfig) (initial, maxDelay time.Duration) {
	initial = time.Duration(rc.InitialDelay) * time.Second
	if initial <= 0 {
		initial = defaultReconnectInitial
	}
	maxDelay = time.Duration(rc.MaxDelay) * time.Second
	if maxDelay <= 0 {
		maxDelay = defaultReconnectMax
	}
	if maxDelay < initial {
		maxDelay = initial
	}
	return initial, maxDelay
}

// configureLWT registers the offline status as the will on the system
// status topic, retained at QoS 1.
func configureLWT(opts *pahomqtt.ClientOptions, topics Topics, will SystemStatusMessage) {
	opts.SetBinaryWill(topics.SystemStatus(), will.encode(), 1, true)
}
