// Package transport maintains the websocket connection to the live agent
// backend. Outbound media is framed as JSON envelopes with base64 payloads
// and written by a single writer goroutine; inbound agent events are
// decoded and delivered strictly in arrival order on one channel.
package transport
