package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/mqtt-dbus-bridge/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second

	// tokenTimeout bounds every publish, subscribe and unsubscribe round trip.
	tokenTimeout = 5 * time.Second

	disconnectQuiesceMS = 1000

	defaultKeepAlive = 60 * time.Second

	// willQoS is used for the status will so the broker always delivers it.
	willQoS = 1

	maxQoS        = 2
	tlsMinVersion = tls.VersionTLS12
)

// buildClientOptions maps the broker configuration onto paho options.
//
// The session is clean: subscriptions are tracked by Client and restored
// after each reconnect rather than kept by the broker. Messages are
// delivered in arrival order so the latest reading on a topic is always
// the one left in the cache.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetOrderMatters(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive(cfg))

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}

	return opts
}

// keepAlive returns the configured keepalive, defaulting non-positive values.
func keepAlive(cfg config.MQTTConfig) time.Duration {
	if cfg.KeepAlive <= 0 {
		return defaultKeepAlive
	}
	return time.Duration(cfg.KeepAlive) * time.Second
}

// configureLWT registers the retained "offline / unexpected_disconnect"
// status as the connection's will. The broker publishes it if the bridge
// drops off without calling Close.
func configureLWT(opts *pahomqtt.ClientOptions, clientID string) {
	opts.SetBinaryWill(
		StatusTopic(clientID),
		statusPayload(clientID, StatusOffline, ReasonUnexpectedDisconnect),
		willQoS,
		true,
	)
}
