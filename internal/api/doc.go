// Package api serves the bridge's HTTP status API and WebSocket change
// stream.
//
// The API is a side door onto the same virtual devices that are published
// on D-Bus: it lists devices and their current path values, accepts
// external writes with origin "api", exposes the reading cache and the
// audit trail, and pushes every path change to WebSocket clients.
//
// Routes:
//
//	GET  /api/v1/health
//	GET  /api/v1/devices
//	GET  /api/v1/devices/{service}
//	GET  /api/v1/devices/{service}/paths/*
//	PUT  /api/v1/devices/{service}/paths/*   {"value": ...}
//	GET  /api/v1/readings
//	GET  /api/v1/audit?limit=&offset=&entity_id=&source=
//	GET  /ws
//
// WebSocket clients receive {"type":"event","event_type":"values",
// "payload":[changes]} for every refresh or write. Sending
// {"type":"subscribe","payload":{"services":[...],"paths":["/Ac"]}} narrows
// the stream and answers with a "snapshot" event of the matching values;
// {"type":"unsubscribe"} mutes the client.
//
// The server follows the usual lifecycle:
//
//	srv, err := api.New(deps)
//	srv.Start(ctx)
//	defer srv.Close()
package api
