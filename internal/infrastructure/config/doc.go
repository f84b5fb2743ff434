// Package config loads the bridge's YAML configuration.
//
// Values are resolved in three layers: built-in defaults (one reference
// Enphase pvinverter on MQTT1, instance 10), the YAML file, then
// MQTTDBUS_* environment variables. Load runs Validate on the result and
// reports every problem it finds in a single error.
//
// Each entry under devices becomes one virtual device and one D-Bus
// service. A path entry has an optional initial value and may name the
// MQTT topic that feeds it. Only topic-bound paths are subscribed.
//
// Keep broker credentials and the InfluxDB token out of the file and set
// MQTTDBUS_MQTT_PASSWORD and MQTTDBUS_INFLUXDB_TOKEN instead.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	for _, d := range cfg.Devices {
//	    fmt.Println(d.ServiceName, len(d.Paths))
//	}
package config
