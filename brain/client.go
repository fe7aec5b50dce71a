// Package brain implements the TaskRouter (§4.11): goal generation from
// policy templates, and a sequential job-execution loop that drives
// the §4.6 payment state machine from the client side against either a
// local or a hired remote capability endpoint.
package brain

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/BSVanon/ClawSats-sub000/payment"
	"github.com/BSVanon/ClawSats-sub000/wallet"
)

// callResult is what the client-side §4.6 walk returns on success.
type callResult struct {
	Result       any   `json:"result"`
	SatoshisPaid int64 `json:"satoshisPaid"`
}

// capCaller drives the client side of the PaymentDispatcher state
// machine against a remote (or local) /call/:cap endpoint, honoring a
// maxSats spend cap across provider price + protocol fee.
type capCaller struct {
	http       *http.Client
	gw         wallet.Gateway
	selfKey    string
}

func newCapCaller(gw wallet.Gateway, selfKey string) *capCaller {
	return &capCaller{http: &http.Client{Timeout: 30 * time.Second}, gw: gw, selfKey: selfKey}
}

// Call performs a capability call against baseURL, paying if challenged,
// and enforces that provider price + protocol fee <= maxSats. A maxSats
// of 0 or less applies no cap.
func (c *capCaller) Call(ctx context.Context, baseURL, capName string, params map[string]any, maxSats int64) (callResult, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return callResult{}, err
	}

	resp, err := c.post(ctx, baseURL, capName, body, "")
	if err != nil {
		return callResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return decodeCallResult(resp.Body)
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return callResult{}, fmt.Errorf("capability call failed with status %d", resp.StatusCode)
	}

	var challenge payment.Challenge
	if err := json.NewDecoder(resp.Body).Decode(&challenge); err != nil {
		return callResult{}, fmt.Errorf("decode payment challenge: %w", err)
	}
	totalRequired := challenge.SatoshisRequired + challenge.FeeSats
	if maxSats > 0 && totalRequired > maxSats {
		return callResult{}, fmt.Errorf("capability price %d + fee %d exceeds job spend cap %d", challenge.SatoshisRequired, challenge.FeeSats, maxSats)
	}

	script, err := c.gw.DerivePaymentScript(ctx, challenge.ProviderKey, challenge.DerivationPrefix, "clawsats")
	if err != nil {
		return callResult{}, fmt.Errorf("derive payment script: %w", err)
	}
	feeScript, err := c.gw.DerivePaymentScript(ctx, challenge.FeeIdentityKey, challenge.DerivationPrefix, challenge.FeeDerivationSuffix)
	if err != nil {
		return callResult{}, fmt.Errorf("derive fee script: %w", err)
	}

	broadcast, err := c.gw.BuildAndBroadcastPayment(ctx, []wallet.PaymentOutput{
		{Amount: uint64(challenge.SatoshisRequired), Script: script, Note: capName},
		{Amount: uint64(challenge.FeeSats), Script: feeScript, Note: "clawsats protocol fee"},
	}, "clawsats capability payment: "+capName, []string{"clawsats", capName})
	if err != nil {
		return callResult{}, fmt.Errorf("broadcast payment: %w", err)
	}

	proof := payment.Proof{
		DerivationPrefix: challenge.DerivationPrefix,
		DerivationSuffix: "clawsats",
		Transaction:      base64.StdEncoding.EncodeToString(broadcast.RawTx),
	}
	proofJSON, err := json.Marshal(proof)
	if err != nil {
		return callResult{}, err
	}

	paidResp, err := c.post(ctx, baseURL, capName, body, string(proofJSON))
	if err != nil {
		return callResult{}, err
	}
	defer paidResp.Body.Close()
	if paidResp.StatusCode != http.StatusOK {
		return callResult{}, fmt.Errorf("paid capability call failed with status %d", paidResp.StatusCode)
	}
	return decodeCallResult(paidResp.Body)
}

func (c *capCaller) post(ctx context.Context, baseURL, capName string, body []byte, paymentHeader string) (*http.Response, error) {
	url := baseURL + "/call/" + capName
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("content-type", "application/json")
	if c.selfKey != "" {
		req.Header.Set("x-bsv-identity-key", c.selfKey)
	}
	if paymentHeader != "" {
		req.Header.Set("x-bsv-payment", paymentHeader)
	}
	return c.http.Do(req)
}

func decodeCallResult(r io.Reader) (callResult, error) {
	var out callResult
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return callResult{}, fmt.Errorf("decode call result: %w", err)
	}
	return out, nil
}
