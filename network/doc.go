// Package network provides the ZeroMQ transport under the consensus
// boundary layer.
// This package implements:
// - Node: ROUTER/DEALER transport with a peer table and channel routing
// - Participant address to peer handle resolution
// - RequestManager: RPC issue, correlation and timeout enforcement
// - Prometheus metrics and the token-authenticated admin server
package network
