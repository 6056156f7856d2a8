// Package server implements the core HTTP and WebSocket functionality for
// RelayRoom, a capacity-bounded broadcast relay.
//
// The implementation is organized into specialized files for configuration,
// credential issuance, admission control, rate limiting, hub management,
// clients, routing, and HTTP handlers to keep the codebase maintainable and
// testable as the project grows.
package server
