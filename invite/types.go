// Package invite implements the InvitationProtocol (§4.7): construction
// and verification of the three signed artifacts that flow between
// Claws — Invitation, Announcement, and DiscoveryQuery — sharing a
// "signed artifact" pattern via a canonicalForSigning helper rather than
// a type hierarchy (§9 design note).
package invite

// ProtocolID and KeyID are the fixed wallet-derivation parameters every
// invitation-protocol artifact is signed under (§6).
const (
	ProtocolIDVersion = 0
	ProtocolIDName    = "clawsats sharing"
	KeyID             = "sharing-v1"

	// DefaultTTLSeconds is the default invitation lifetime when opts omits one.
	DefaultTTLSeconds = 5 * 60
)

// Party describes the sender or recipient side of an Invitation.
type Party struct {
	ClawID      string `json:"clawId,omitempty"`
	IdentityKey string `json:"identityKey,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	PublicKey   string `json:"publicKey,omitempty"`
}

// WalletSnapshot is the wallet-config snapshot embedded in an Invitation.
type WalletSnapshot struct {
	Chain        string   `json:"chain"`
	Capabilities []string `json:"capabilities"`
	DeployHint   string   `json:"deployHint,omitempty"`
}

// Invitation is the signed artifact exchanged via POST /wallet/invite.
type Invitation struct {
	ProtocolID int            `json:"protocolId"`
	Version    string         `json:"version"`
	ID         string         `json:"invitationId"`
	Nonce      string         `json:"nonce"`
	Sender     Party          `json:"sender"`
	Recipient  Party          `json:"recipient"`
	Wallet     WalletSnapshot `json:"wallet"`
	Expires    int64          `json:"expires"`
	Timestamp  string         `json:"timestamp"`
	Signature  string         `json:"signature,omitempty"`
}

// CapabilityDescriptor is one entry of an Announcement's capability list.
type CapabilityDescriptor struct {
	Name        string   `json:"name"`
	Version     string   `json:"version,omitempty"`
	Endpoint    string   `json:"endpoint"`
	Methods     []string `json:"methods,omitempty"`
	RateLimit   int      `json:"rateLimit,omitempty"`
	CostPerCall int64    `json:"costPerCall"`
}

// NetworkInfo is the network section of an Announcement.
type NetworkInfo struct {
	Chain    string `json:"chain"`
	Endpoint string `json:"endpoint"`
}

// Announcement is the signed manifest exchanged via POST /wallet/announce
// and relayed by broadcast_listing.
type Announcement struct {
	Type         string                 `json:"type"`
	Version      string                 `json:"version"`
	ID           string                 `json:"announcementId"`
	ClawID       string                 `json:"clawId"`
	IdentityKey  string                 `json:"identityKey"`
	Capabilities []CapabilityDescriptor `json:"capabilities"`
	Network      NetworkInfo            `json:"network"`
	ReferredBy   string                 `json:"referredBy,omitempty"`
	Signature    string                 `json:"signature,omitempty"`
}

// DiscoveryQuery is a targeted capability-tag search against a peer's
// directory, a third signed artifact alongside Invitation and
// Announcement.
type DiscoveryQuery struct {
	ProtocolID  int      `json:"protocolId"`
	Version     string   `json:"version"`
	QueryID     string   `json:"queryId"`
	Requester   string   `json:"requesterIdentityKey"`
	WantedTags  []string `json:"wantedTags"`
	Nonce       string   `json:"nonce"`
	Expires     int64    `json:"expires"`
	Signature   string   `json:"signature,omitempty"`
}
