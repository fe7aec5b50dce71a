package httpapi

import (
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BSVanon/ClawSats-sub000/invite"
	"github.com/BSVanon/ClawSats-sub000/peerstore"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	identity := s.deps.Wallet.IdentityKey()
	truncated := identity
	if len(truncated) > 10 {
		truncated = truncated[:10] + "..."
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"wallet": map[string]any{
			"identityKey":  truncated,
			"chain":        s.deps.Config.Chain,
			"capabilities": len(s.deps.Capabilities.Names()),
		},
		"server": map[string]any{
			"uptime": time.Since(s.deps.StartedAt).Seconds(),
		},
	})
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	entries := s.deps.Capabilities.List()
	names := make([]string, 0, len(entries))
	descriptors := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
		descriptors = append(descriptors, map[string]any{
			"name":      e.Name,
			"priceSats": e.PriceSats,
			"tags":      e.Tags,
		})
	}
	knownPeers := 0
	if s.deps.Peers != nil {
		knownPeers = s.deps.Peers.Size()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"protocol":           "clawsats/1.0",
		"clawId":             s.deps.Config.ClawID,
		"identityKey":        s.deps.Wallet.IdentityKey(),
		"capabilities":       names,
		"paidCapabilities":   descriptors,
		"endpoints":          s.deps.Config.Endpoints,
		"knownPeers":         knownPeers,
		"chain":              s.deps.Config.Chain,
		"timestamp":          time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleWalletInvite(w http.ResponseWriter, r *http.Request) {
	var inv invite.Invitation
	if err := decodeJSONBody(r, &inv); err != nil {
		writeJSONError(w, http.StatusBadRequest, "MALFORMED_PAYMENT", "malformed invitation body")
		return
	}

	if !s.inviteLimiter.Allow(inv.Sender.IdentityKey) {
		writeJSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "invitation rate limit exceeded")
		return
	}

	nonceResult := s.deps.Nonces.Validate(inv.Nonce, 10*time.Minute)
	if !nonceResult.Fresh {
		writeJSONError(w, http.StatusBadRequest, "NONCE_REPLAY", nonceResult.Reason)
		return
	}

	structural := invite.ValidateInvitation(inv)
	if !structural.Valid {
		writeJSONError(w, http.StatusBadRequest, "INVITATION_EXPIRED", structural.Reason)
		return
	}

	ok, err := s.deps.Invites.VerifyInvitationSignature(r.Context(), inv, s.deps.Wallet.IdentityKey())
	if err != nil || !ok {
		writeJSONError(w, http.StatusForbidden, "INVALID_SIGNATURE", "invitation signature verification failed")
		return
	}

	if s.deps.Peers != nil {
		s.deps.Peers.Add(peerstore.Peer{
			IdentityKey:  inv.Sender.IdentityKey,
			ClawID:       inv.Sender.ClawID,
			Endpoint:     inv.Sender.Endpoint,
			Capabilities: inv.Wallet.Capabilities,
			ChainTag:     inv.Wallet.Chain,
			Reputation:   50,
		})
	}

	ann, err := s.deps.Invites.CreateAnnouncement(r.Context(), s.deps.Config.ClawID, s.deps.Wallet.IdentityKey(), nil, invite.NetworkInfo{Chain: s.deps.Config.Chain}, "")
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "UNKNOWN_CAPABILITY", "failed to build announcement")
		return
	}

	peersKnown := 0
	if s.deps.Peers != nil {
		peersKnown = s.deps.Peers.Size()
	}
	writeJSON(w, http.StatusOK, map[string]any{"accepted": true, "announcement": ann, "peersKnown": peersKnown})
}

func (s *Server) handleWalletAnnounce(w http.ResponseWriter, r *http.Request) {
	var ann invite.Announcement
	if err := decodeJSONBody(r, &ann); err != nil {
		writeJSONError(w, http.StatusBadRequest, "MALFORMED_PAYMENT", "malformed announcement body")
		return
	}
	if len(ann.IdentityKey) != 66 {
		writeJSONError(w, http.StatusBadRequest, "INVALID_SIGNATURE", "identity key must be 66 hex characters")
		return
	}
	if ann.Network.Endpoint != "" {
		if err := ValidateEndpoint(ann.Network.Endpoint); err != nil {
			writeJSONError(w, http.StatusBadRequest, "INVALID_ENDPOINT", err.Error())
			return
		}
	}

	ok, err := s.deps.Invites.VerifyAnnouncementSignature(r.Context(), ann)
	if err != nil || !ok {
		writeJSONError(w, http.StatusForbidden, "INVALID_SIGNATURE", "announcement signature verification failed")
		return
	}

	caps := make([]string, 0, len(ann.Capabilities))
	for _, c := range ann.Capabilities {
		caps = append(caps, c.Name)
	}
	if s.deps.Peers != nil {
		s.deps.Peers.Add(peerstore.Peer{
			IdentityKey:  ann.IdentityKey,
			ClawID:       ann.ClawID,
			Endpoint:     ann.Network.Endpoint,
			Capabilities: caps,
			ChainTag:     ann.Network.Chain,
			Reputation:   40,
		})
	}
	if s.deps.Dispatcher != nil && ann.ReferredBy != "" {
		s.deps.Dispatcher.RecordReferral(ann.IdentityKey, ann.ReferredBy)
	}

	peersKnown := 0
	if s.deps.Peers != nil {
		peersKnown = s.deps.Peers.Size()
	}
	writeJSON(w, http.StatusOK, map[string]any{"registered": true, "verified": true, "peersKnown": peersKnown})
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	capName := chi.URLParam(r, "cap")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "MALFORMED_PAYMENT", "could not read request body")
		return
	}
	resp := s.deps.Dispatcher.HandleCall(r.Context(), capName, r.Header.Get("x-bsv-payment"), r.Header.Get("x-bsv-identity-key"), body)
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	writeJSON(w, resp.Status, resp.Body)
}
