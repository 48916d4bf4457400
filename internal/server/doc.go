// Package server implements the HTTP and WebSocket front of the direct-message
// relay.
//
// The implementation is organized into specialized files for configuration,
// origin policy, the hub that owns connection lifecycles, per-connection
// sessions, routing, and HTTP handlers. Routing decisions themselves live in
// the delivery package and presence in the registry package.
package server
