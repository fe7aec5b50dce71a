package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/BSVanon/ClawSats-sub000/brain"
	"github.com/BSVanon/ClawSats-sub000/invite"
	"github.com/BSVanon/ClawSats-sub000/jobstore"
	"github.com/BSVanon/ClawSats-sub000/nodeconfig"
	"github.com/BSVanon/ClawSats-sub000/payment"
	"github.com/BSVanon/ClawSats-sub000/peerstore"
	"github.com/BSVanon/ClawSats-sub000/wallet"
)

// JSON-RPC 2.0 error codes, mirrored from the teacher's node RPC server.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      any             `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

// wrappedParams is the {args, originator} envelope the server unwraps
// uniformly alongside flat params (§4.8).
type wrappedParams struct {
	Args       json.RawMessage `json:"args"`
	Originator string          `json:"originator"`
}

func unwrapParams(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	var w wrappedParams
	if err := json.Unmarshal(raw, &w); err == nil && len(w.Args) > 0 {
		return w.Args
	}
	return raw
}

// RPCHandler exposes wallet, ClawSats, and brain methods over the
// JSON-RPC 2.0 surface (§4.8 POST /).
type RPCHandler struct {
	Wallet  wallet.Gateway
	Config  nodeconfig.WalletConfig
	Peers   *peerstore.Registry
	Invites *invite.Protocol
	Dispatch *payment.Dispatcher
	Jobs    *jobstore.Store
	Router  *brain.Router
}

func (h *RPCHandler) dispatch(ctx context.Context, method string, params json.RawMessage) (any, *rpcError) {
	params = unwrapParams(params)
	switch method {
	case "sign":
		return h.rpcSign(ctx, params)
	case "verify":
		return h.rpcVerify(ctx, params)
	case "getPublicKey":
		return map[string]string{"identityKey": h.Wallet.IdentityKey()}, nil
	case "createAction", "internalizeAction", "listOutputs", "listActions":
		return nil, &rpcError{Code: codeMethodNotFound, Message: method + " is not supported by the narrow wallet gateway contract"}
	case "createPaymentChallenge":
		return h.rpcCreatePaymentChallenge(ctx, params)
	case "verifyPayment":
		return nil, &rpcError{Code: codeMethodNotFound, Message: "verifyPayment: use POST /call/:cap, which drives the full verification state machine"}
	case "getConfig":
		return h.Config.Redacted(), nil
	case "listPeers":
		return h.rpcListPeers()
	case "searchCapabilities":
		return h.rpcSearchCapabilities(params)
	case "sendInvitation":
		return h.rpcSendInvitation(ctx, params)
	case "hireClaw":
		return nil, &rpcError{Code: codeMethodNotFound, Message: "hireClaw: enqueue a hire-strategy job via brain.enqueue instead"}
	case "enqueue":
		return h.rpcEnqueue(params)
	case "listJobs":
		return h.rpcListJobs(params)
	case "retryFailed":
		return h.rpcRetryFailed(params)
	case "run":
		return h.rpcRun(ctx)
	default:
		return nil, &rpcError{Code: codeMethodNotFound, Message: "unknown method " + method}
	}
}

func (h *RPCHandler) rpcSign(ctx context.Context, params json.RawMessage) (any, *rpcError) {
	var in struct {
		Data         string `json:"data"`
		KeyID        string `json:"keyId"`
		Counterparty string `json:"counterparty"`
	}
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: err.Error()}
	}
	sig, err := h.Wallet.Sign(ctx, []byte(in.Data), wallet.ProtocolID{0, "clawsats-rpc"}, in.KeyID, in.Counterparty)
	if err != nil {
		return nil, &rpcError{Code: codeServerError, Message: err.Error()}
	}
	return map[string]string{"signature": string(sig)}, nil
}

func (h *RPCHandler) rpcVerify(ctx context.Context, params json.RawMessage) (any, *rpcError) {
	var in struct {
		SignerIdentityKey string `json:"signerIdentityKey"`
		Data              string `json:"data"`
		Signature         string `json:"signature"`
		KeyID             string `json:"keyId"`
		Counterparty      string `json:"counterparty"`
	}
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: err.Error()}
	}
	ok, err := h.Wallet.Verify(ctx, in.SignerIdentityKey, []byte(in.Data), []byte(in.Signature), wallet.ProtocolID{0, "clawsats-rpc"}, in.KeyID, in.Counterparty)
	if err != nil {
		return nil, &rpcError{Code: codeServerError, Message: err.Error()}
	}
	return map[string]bool{"valid": ok}, nil
}

func (h *RPCHandler) rpcCreatePaymentChallenge(ctx context.Context, params json.RawMessage) (any, *rpcError) {
	var in struct {
		Capability string `json:"capability"`
	}
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: err.Error()}
	}
	resp := h.Dispatch.HandleCall(ctx, in.Capability, "", "", nil)
	if resp.Status != http.StatusPaymentRequired {
		return nil, &rpcError{Code: codeServerError, Message: "capability did not return a payment challenge"}
	}
	return resp.Body, nil
}

func (h *RPCHandler) rpcListPeers() (any, *rpcError) {
	if h.Peers == nil {
		return []peerstore.Peer{}, nil
	}
	return h.Peers.All(), nil
}

func (h *RPCHandler) rpcSearchCapabilities(params json.RawMessage) (any, *rpcError) {
	var in struct {
		Tag string `json:"tag"`
	}
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: err.Error()}
	}
	if h.Peers == nil {
		return []peerstore.Peer{}, nil
	}
	return h.Peers.ByCapability(in.Tag), nil
}

func (h *RPCHandler) rpcSendInvitation(ctx context.Context, params json.RawMessage) (any, *rpcError) {
	var in struct {
		Recipient invite.Party `json:"recipient"`
	}
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: err.Error()}
	}
	sender := invite.Party{IdentityKey: h.Wallet.IdentityKey(), ClawID: h.Config.ClawID}
	snapshot := invite.WalletSnapshot{Chain: h.Config.Chain}
	inv, err := h.Invites.CreateInvitation(ctx, sender, in.Recipient, snapshot, invite.CreateOpts{})
	if err != nil {
		return nil, &rpcError{Code: codeServerError, Message: err.Error()}
	}
	return inv, nil
}

func (h *RPCHandler) rpcEnqueue(params json.RawMessage) (any, *rpcError) {
	var in jobstore.Input
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: err.Error()}
	}
	j, err := h.Jobs.Enqueue(in)
	if err != nil {
		return nil, &rpcError{Code: codeServerError, Message: err.Error()}
	}
	return j, nil
}

func (h *RPCHandler) rpcListJobs(params json.RawMessage) (any, *rpcError) {
	var in struct {
		Status string `json:"status"`
	}
	_ = json.Unmarshal(params, &in)
	return h.Jobs.List(jobstore.Status(in.Status)), nil
}

func (h *RPCHandler) rpcRetryFailed(params json.RawMessage) (any, *rpcError) {
	var in struct {
		Capability string `json:"capability"`
	}
	_ = json.Unmarshal(params, &in)
	if h.Router == nil {
		return nil, &rpcError{Code: codeServerError, Message: "brain router not configured"}
	}
	n, err := h.Router.RetryFailed(in.Capability)
	if err != nil {
		return nil, &rpcError{Code: codeServerError, Message: err.Error()}
	}
	return map[string]int{"retried": n}, nil
}

func (h *RPCHandler) rpcRun(ctx context.Context) (any, *rpcError) {
	if h.Router == nil {
		return nil, &rpcError{Code: codeServerError, Message: "brain router not configured"}
	}
	h.Router.Run(ctx)
	return map[string]bool{"ran": true}, nil
}

func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, rpcResponse{JSONRPC: "2.0", Error: &rpcError{Code: codeParseError, Message: "invalid JSON payload"}})
		return
	}
	if s.deps.RPC == nil {
		writeJSON(w, http.StatusInternalServerError, rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: codeServerError, Message: "rpc handler not configured"}})
		return
	}
	result, rpcErr := s.deps.RPC.dispatch(r.Context(), req.Method, req.Params)
	if rpcErr != nil {
		writeJSON(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: rpcErr})
		return
	}
	writeJSON(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result})
}
