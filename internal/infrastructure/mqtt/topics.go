package mqtt

import (
	"encoding/json"
	"strings"
	"time"
)

// StatusTopicPrefix is the root of the bridge's own status topics.
const StatusTopicPrefix = "mqttdbus"

// Bridge status values and reasons published on the status topic.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"

	ReasonGracefulShutdown     = "graceful_shutdown"
	ReasonUnexpectedDisconnect = "unexpected_disconnect"
)

// StatusTopic returns the retained status topic for a bridge instance,
// e.g. mqttdbus/mqtt-dbus-bridge/status.
func StatusTopic(clientID string) string {
	return StatusTopicPrefix + "/" + clientID + "/status"
}

// IsWildcard reports whether topic contains an MQTT wildcard.
// Feed topics must be exact: a reading is keyed by the topic it arrived on.
func IsWildcard(topic string) bool {
	return strings.ContainsAny(topic, "+#")
}

// Status is the retained JSON record on StatusTopic.
type Status struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// statusPayload encodes a Status stamped with the current UTC time.
func statusPayload(clientID, status, reason string) []byte {
	data, err := json.Marshal(Status{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		// Only strings are encoded; Marshal cannot fail.
		return nil
	}
	return data
}
