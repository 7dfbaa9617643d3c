package types

// PeerHandle is an opaque, network-layer-assigned identifier for a
// currently reachable peer. A handle is only valid while the peer stays
// connected; callers look one up fresh for every send and never hold on
// to it across sends.
type PeerHandle string

// IsValid reports whether the handle names a peer at all.
func (h PeerHandle) IsValid() bool {
	return h != ""
}
