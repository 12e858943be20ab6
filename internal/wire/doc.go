// Package wire defines the JSON envelope exchanged with the session server.
//
// Every frame is a JSON object with a string "type" discriminant. Inbound
// frames decode to one of Pong, ServerError or Frame (the fallback for every
// other type). Outbound helpers build the collaboration messages: ping,
// start_editing, stop_editing, typing, cursor_position and request_presence.
package wire
