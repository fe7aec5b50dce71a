// Package discovery implements the DiscoveryDaemon (§4.9): a
// single-threaded periodic sweep that bootstraps peers from a
// directory and direct probing, auto-invites newly found Claws, and
// drives the brain's goal generation and execution for each sweep.
package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/BSVanon/ClawSats-sub000/brain"
	"github.com/BSVanon/ClawSats-sub000/invite"
	"github.com/BSVanon/ClawSats-sub000/peerstore"
	"github.com/BSVanon/ClawSats-sub000/policy"
	"github.com/BSVanon/ClawSats-sub000/wallet"
)

const (
	discoveryProbeTimeout     = 8 * time.Second
	directoryFetchTimeout     = 10 * time.Second
	directoryFetchInterval    = 10 * time.Minute
	autoInviteTimeout         = 10 * time.Second
)

// EndpointNormalizer is supplied by the caller (httpapi.NormalizeEndpoint)
// to avoid a discovery->httpapi dependency; discovery only needs the
// narrow function signature.
type EndpointNormalizer func(raw string) (string, error)

// Daemon is the DiscoveryDaemon.
type Daemon struct {
	Policy    *policy.Store
	Peers     *peerstore.Registry
	Invites   *invite.Protocol
	Router    *brain.Router
	Events    *policy.EventLog
	Wallet    wallet.Gateway
	SelfEndpoint string
	Normalize EndpointNormalizer
	Log       *slog.Logger

	DirectoryURL         string
	DirectoryRegisterURL string

	http *http.Client

	mu                     sync.Mutex
	lastDirectoryRegister  time.Time
	lastDirectoryFetch     time.Time

	stop chan struct{}
	done chan struct{}
}

// New constructs a Daemon.
func New(pol *policy.Store, peers *peerstore.Registry, invites *invite.Protocol, router *brain.Router, events *policy.EventLog, gw wallet.Gateway, selfEndpoint string, normalize EndpointNormalizer, log *slog.Logger) *Daemon {
	if log == nil {
		log = slog.Default()
	}
	return &Daemon{
		Policy: pol, Peers: peers, Invites: invites, Router: router, Events: events,
		Wallet: gw, SelfEndpoint: selfEndpoint, Normalize: normalize, Log: log,
		http: &http.Client{},
		stop: make(chan struct{}), done: make(chan struct{}),
	}
}

// Start runs the sweep loop in a new goroutine until Stop is called.
func (d *Daemon) Start(ctx context.Context) {
	go d.loop(ctx)
}

// Stop signals the loop to exit and blocks until it has.
func (d *Daemon) Stop() {
	close(d.stop)
	<-d.done
}

func (d *Daemon) loop(ctx context.Context) {
	defer close(d.done)
	for {
		interval := time.Duration(d.Policy.Get().Timers.DiscoveryIntervalSeconds) * time.Second
		if interval <= 0 {
			interval = 5 * time.Minute
		}
		timer := time.NewTimer(interval)
		select {
		case <-d.stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			d.Sweep(ctx)
		}
	}
}

// Sweep runs one full discovery+brain cycle (§4.9 steps 1-7).
func (d *Daemon) Sweep(ctx context.Context) {
	p := d.Policy.Get()

	d.maybeRegisterWithDirectory(ctx, p)
	seeds := d.maybeFetchDirectory(ctx, p)
	d.probeSeeds(ctx, seeds, p)

	if d.Peers != nil {
		if err := d.Peers.Flush(); err != nil {
			d.logEvent("discovery", "persist-failed", err.Error(), nil)
		}
	}

	if d.Router != nil {
		if err := d.Router.GenerateGoals(); err != nil {
			d.logEvent("brain", "goal-generation-failed", err.Error(), nil)
		}
		d.Router.Run(ctx)
	}

	d.logEvent("discovery", "sweep-complete", "", nil)
}

func (d *Daemon) maybeRegisterWithDirectory(ctx context.Context, p policy.Policy) {
	if d.DirectoryRegisterURL == "" {
		return
	}
	if d.Normalize != nil {
		if _, err := d.Normalize(d.SelfEndpoint); err != nil {
			// Local-only endpoint: skip registration (§4.9 step 1).
			return
		}
	}

	d.mu.Lock()
	throttle := time.Duration(p.Timers.DirectoryRegisterIntervalSeconds) * time.Second
	due := throttle <= 0 || time.Since(d.lastDirectoryRegister) >= throttle
	if due {
		d.lastDirectoryRegister = time.Now()
	}
	d.mu.Unlock()
	if !due {
		return
	}

	payload, _ := json.Marshal(map[string]any{
		"identityKey":  d.Wallet.IdentityKey(),
		"endpoint":     d.SelfEndpoint,
		"capabilities": []string{},
	})
	reqCtx, cancel := context.WithTimeout(ctx, directoryFetchTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, d.DirectoryRegisterURL, bytes.NewReader(payload))
	if err != nil {
		d.logEvent("discovery", "directory-register-failed", err.Error(), nil)
		return
	}
	req.Header.Set("content-type", "application/json")
	resp, err := d.http.Do(req)
	if err != nil {
		d.logEvent("discovery", "directory-register-failed", err.Error(), nil)
		return
	}
	defer resp.Body.Close()
}

type directoryListing struct {
	Claws []struct {
		Endpoint string `json:"endpoint"`
	} `json:"claws"`
}

func (d *Daemon) maybeFetchDirectory(ctx context.Context, p policy.Policy) []string {
	seeds := make([]string, 0)
	if d.DirectoryURL == "" {
		return seeds
	}

	d.mu.Lock()
	due := time.Since(d.lastDirectoryFetch) >= directoryFetchInterval
	if due {
		d.lastDirectoryFetch = time.Now()
	}
	d.mu.Unlock()
	if !due {
		return seeds
	}

	reqCtx, cancel := context.WithTimeout(ctx, directoryFetchTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, d.DirectoryURL, nil)
	if err != nil {
		d.logEvent("discovery", "directory-fetch-failed", err.Error(), nil)
		return seeds
	}
	resp, err := d.http.Do(req)
	if err != nil {
		d.logEvent("discovery", "directory-fetch-failed", err.Error(), nil)
		return seeds
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return seeds
	}
	var listing directoryListing
	if err := json.Unmarshal(body, &listing); err != nil {
		d.logEvent("discovery", "directory-parse-failed", err.Error(), nil)
		return seeds
	}
	for _, c := range listing.Claws {
		normalized := c.Endpoint
		if d.Normalize != nil {
			n, err := d.Normalize(c.Endpoint)
			if err != nil {
				continue
			}
			normalized = n
		}
		seeds = append(seeds, normalized)
	}
	return seeds
}

func (d *Daemon) probeSeeds(ctx context.Context, seeds []string, p policy.Policy) {
	endpoints := make(map[string]struct{})
	for _, s := range seeds {
		endpoints[s] = struct{}{}
	}
	if d.Peers != nil {
		for _, peer := range d.Peers.All() {
			if peer.Endpoint != "" {
				endpoints[peer.Endpoint] = struct{}{}
			}
		}
	}

	for endpoint := range endpoints {
		d.probeOne(ctx, endpoint, p)
	}
}

type discoveryManifest struct {
	IdentityKey  string   `json:"identityKey"`
	ClawID       string   `json:"clawId"`
	Capabilities []string `json:"capabilities"`
	Chain        string   `json:"chain"`
}

func (d *Daemon) probeOne(ctx context.Context, endpoint string, p policy.Policy) {
	reqCtx, cancel := context.WithTimeout(ctx, discoveryProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint+"/discovery", nil)
	if err != nil {
		return
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return
	}

	var manifest discoveryManifest
	if err := json.NewDecoder(resp.Body).Decode(&manifest); err != nil {
		return
	}
	if manifest.IdentityKey == "" || manifest.IdentityKey == d.Wallet.IdentityKey() {
		return
	}

	_, known := d.Peers.Get(manifest.IdentityKey)
	d.Peers.Add(peerstore.Peer{
		IdentityKey:  manifest.IdentityKey,
		ClawID:       manifest.ClawID,
		Endpoint:     endpoint,
		Capabilities: manifest.Capabilities,
		ChainTag:     manifest.Chain,
		Reputation:   30,
	})

	if !known {
		d.logEvent("discovery", "peer-discovered", "", map[string]any{
			"identityKey": manifest.IdentityKey,
			"endpoint":    endpoint,
		})
	}

	if !known && p.Timers.AutoInvite {
		d.autoInvite(ctx, manifest)
	}
}

func (d *Daemon) autoInvite(ctx context.Context, manifest discoveryManifest) {
	if d.Invites == nil {
		return
	}
	reqCtx, cancel := context.WithTimeout(ctx, autoInviteTimeout)
	defer cancel()

	sender := invite.Party{IdentityKey: d.Wallet.IdentityKey(), Endpoint: d.SelfEndpoint}
	recipient := invite.Party{IdentityKey: manifest.IdentityKey, ClawID: manifest.ClawID}
	inv, err := d.Invites.CreateInvitation(reqCtx, sender, recipient, invite.WalletSnapshot{Chain: manifest.Chain}, invite.CreateOpts{})
	if err != nil {
		d.logEvent("discovery", "auto-invite-failed", err.Error(), nil)
		return
	}

	peer, ok := d.Peers.Get(manifest.IdentityKey)
	if !ok || peer.Endpoint == "" {
		return
	}
	payload, _ := json.Marshal(inv)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, peer.Endpoint+"/wallet/invite", bytes.NewReader(payload))
	if err != nil {
		return
	}
	req.Header.Set("content-type", "application/json")
	resp, err := d.http.Do(req)
	if err != nil {
		d.logEvent("discovery", "auto-invite-failed", err.Error(), nil)
		return
	}
	defer resp.Body.Close()
}

func (d *Daemon) logEvent(source, action, reason string, details map[string]any) {
	d.Log.Warn(fmt.Sprintf("%s: %s", source, action), slog.String("reason", reason))
	if d.Events != nil {
		_ = d.Events.LogEvent(source, action, reason, details)
	}
}
