package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/forgerunner/forgerunner/internal/infrastructure/config"
)

const (
	// connectTimeout bounds the initial connection.
	connectTimeout = 10 * time.Second

	// ackTimeout bounds each publish, subscribe and unsubscribe.
	ackTimeout = 5 * time.Second

	// disconnectQuiesce lets in-flight messages finish on Close, in ms.
	disconnectQuiesce = 1000

	keepAlive = 60 * time.Second

	maxQoS = 2
)

// Values of the status message on {prefix}/status.
const (
	statusOnline  = "online"
	statusOffline = "offline"

	reasonShutdown       = "shutdown"
	reasonConnectionLost = "connection_lost"
)

// statusMessage is the retained supervisor status. The broker publishes the
// connection_lost variant as the Last Will when the supervisor vanishes.
type statusMessage struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func statusPayload(clientID, status, reason string, at time.Time) []byte {
	data, _ := json.Marshal(statusMessage{ //nolint:errcheck // plain strings always marshal
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: at.UTC().Format(time.RFC3339),
	})
	return data
}

// brokerURL renders the broker address, ssl:// when TLS is enabled.
func brokerURL(b config.MQTTBrokerConfig) string {
	scheme := "tcp"
	if b.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, b.Host, b.Port)
}

// clientOptions builds the paho options for cfg. Sessions are clean, a
// dropped connection is retried with the configured backoff and the will
// marks the supervisor offline on {prefix}/status. The first connect is not
// retried, so a wrong broker address fails serve at once.
func clientOptions(cfg config.MQTTConfig, topics Topics) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg.Broker)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	will := statusPayload(cfg.Broker.ClientID, statusOffline, reasonConnectionLost, time.Now())
	opts.SetBinaryWill(topics.SystemStatus(), will, 1, true)
	return opts
}
