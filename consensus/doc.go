// Package consensus implements the boundary layer between a BFT
// consensus engine and the network transport.
// This package implements:
// - NetworkSender: direct send, multi-recipient send, RPC, self delivery
// - One-shot completion slots for RPC correlation
// - Per-kind FIFO loopback queues for self-addressed messages
package consensus
