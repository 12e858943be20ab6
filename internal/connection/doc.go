// Package connection implements the Connection Manager for a collaborative
// editing session.
//
// The Connection Manager:
//   - Owns a single WebSocket transport and its state machine
//     (disconnected, connecting, connected, error)
//   - Reconnects after abnormal closes with capped exponential backoff
//   - Runs the application-level ping heartbeat while connected
//   - Buffers sends made while offline and flushes them in order on connect
//   - Publishes lifecycle events and inbound frames through its own dispatcher
//
// Every transport belongs to a generation. Timers, dial results and inbound
// pumps compare their generation with the current one before acting, so a
// callback from a superseded transport never touches the live connection.
package connection
