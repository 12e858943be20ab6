// Package audit journals connection lifecycle events to PostgreSQL.
//
// The writer subscribes to a manager's lifecycle events, buffers them in a
// bounded queue and batch-inserts them into connection_events. Message
// contents are never recorded. Handlers only enqueue, so a slow database
// never stalls inbound dispatch; when the buffer is full the oldest
// records are dropped.
package audit
