// Package mqtt provides MQTT client connectivity for the bridge's feed side.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Topic subscriptions, restored after every reconnect
//   - Message publishing with QoS guarantees
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// The inverter gateway publishes one decimal reading per topic. The bridge
// subscribes to the topics its devices are bound to and hands each payload
// to the feed listener.
//
//	Inverter gateway → MQTT Broker → Client → feed.Listener → reading.Cache
//
// # Status Topic
//
// The client publishes a retained JSON status on mqttdbus/<client_id>/status:
// "online" on every (re)connect, "offline" with reason graceful_shutdown on
// Close, and the broker publishes "offline" with reason unexpected_disconnect
// as the will message if the connection drops.
//
// # Security Considerations
//
//   - Enable TLS (cfg.Broker.TLS=true) when the broker is not on the local network
//   - Credentials should come from MQTTDBUS_MQTT_USERNAME and MQTTDBUS_MQTT_PASSWORD
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe("ESS/Enphase/production", 0,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
package mqtt
