// Package queue provides the FIFO buffer behind the Outbound Queue.
//
// Buffer is a growable ring: it doubles its backing array at 70% fill and,
// when given a limit, applies an OverflowPolicy instead of growing past it.
// Peek/Pop let a consumer remove an item only after it has been handed off,
// which is how the connection manager keeps a failed write at the head.
// Receive blocks for the next item and returns false once the buffer is
// closed and empty; the audit writer consumes its input that way.
package queue
