// Package dispatch implements the Event Dispatcher: a typed publish/subscribe
// bus owned by one connection manager.
//
// Handlers for an event run in registration order. A handler that panics is
// recovered and logged; the remaining handlers for the same emission still run
// and the emitter never sees the failure.
package dispatch
