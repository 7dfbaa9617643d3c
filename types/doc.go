// Package types defines the consensus message vocabulary.
// This package implements:
// - Participant addresses (fixed-width, network-location independent)
// - The closed set of consensus message payloads
// - The ConsensusMsg envelope with structural kind tags and JSON framing
package types
