// Package peerstore implements the PeerRegistry (§4.3): a persistent map
// of identity key to peer record with reputation, staleness, and capacity
// eviction.
package peerstore

import "time"

// Peer is a single peer record (§3 Peer record).
type Peer struct {
	IdentityKey  string    `json:"identityKey"`
	ClawID       string    `json:"clawId"`
	Endpoint     string    `json:"endpoint"`
	Capabilities []string  `json:"capabilities"`
	ChainTag     string    `json:"chain"`
	LastSeen     time.Time `json:"lastSeen"`
	Reputation   int       `json:"reputation"`
}

func (p Peer) clone() Peer {
	caps := make([]string, len(p.Capabilities))
	copy(caps, p.Capabilities)
	p.Capabilities = caps
	return p
}

func clampReputation(r int) int {
	if r < 0 {
		return 0
	}
	if r > 100 {
		return 100
	}
	return r
}
