// Package server is the gateway's HTTP and WebSocket transport.
//
// A Hub keeps the table of live clients and implements protocol.Emitter.
// Each Client runs a read pump, which authenticates the connection and feeds
// inbound frames to the gateway in order, and a write pump, which drains the
// client's send buffer and keeps the connection alive with pings. Server
// wires the hub, the origin policy, the per-connection rate limiter and the
// HTTP routes together and owns their lifecycle.
package server
