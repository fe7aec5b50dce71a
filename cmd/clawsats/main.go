package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/BSVanon/ClawSats-sub000/brain"
	"github.com/BSVanon/ClawSats-sub000/capability"
	"github.com/BSVanon/ClawSats-sub000/discovery"
	"github.com/BSVanon/ClawSats-sub000/httpapi"
	"github.com/BSVanon/ClawSats-sub000/invite"
	"github.com/BSVanon/ClawSats-sub000/jobstore"
	"github.com/BSVanon/ClawSats-sub000/nodeconfig"
	"github.com/BSVanon/ClawSats-sub000/observability/logging"
	"github.com/BSVanon/ClawSats-sub000/payment"
	"github.com/BSVanon/ClawSats-sub000/peerstore"
	"github.com/BSVanon/ClawSats-sub000/policy"
	"github.com/BSVanon/ClawSats-sub000/security"
	"github.com/BSVanon/ClawSats-sub000/wallet"
)

const (
	keystorePassEnv = "CLAWSATS_KEYSTORE_PASS"
	shutdownGrace   = 10 * time.Second
)

func main() {
	configFlag := flag.String("config", "", "Path to the wallet config file (overrides CLAWSATS_CONFIG_PATH)")
	bindFlag := flag.String("bind", "", "Address to bind the HTTP server to (overrides wallet config bindAddr)")
	keystoreFlag := flag.String("keystore", "", "Path to the encrypted keystore file used to derive the root identity key")
	dataDirFlag := flag.String("data-dir", "./data", "Directory for peer store, job store, policy, and event log state")
	flag.Parse()

	_ = godotenv.Load(".env")

	if err := payment.VerifyFeeConstant(); err != nil {
		fmt.Fprintln(os.Stderr, "fee constant verification failed:", err)
		os.Exit(1)
	}

	env := strings.TrimSpace(os.Getenv("CLAWSATS_ENV"))
	logger := logging.SetupWithOptions(logging.Options{
		Service:     "clawsats",
		Env:         env,
		Level:       os.Getenv("CLAWSATS_LOG_LEVEL"),
		LogFilePath: os.Getenv("CLAWSATS_LOG_FILE"),
	})

	configPath := strings.TrimSpace(*configFlag)
	if configPath == "" {
		configPath = nodeconfig.ConfigPath()
	}

	cfg, existed, err := nodeconfig.Load(configPath)
	if err != nil {
		logger.Error("failed to load wallet config", slog.Any("error", err))
		os.Exit(1)
	}
	if envBind := strings.TrimSpace(os.Getenv("CLAWSATS_BIND_ADDR")); envBind != "" {
		cfg.BindAddr = envBind
	}
	if *bindFlag != "" {
		cfg.BindAddr = *bindFlag
	}
	if cfg.BindAddr == "" {
		cfg.BindAddr = "127.0.0.1:3321"
	}
	if !existed {
		logger.Warn("no wallet config found, running with generated defaults", slog.String("path", configPath))
	}

	passphrase := os.Getenv(keystorePassEnv)
	rootKey, err := nodeconfig.ResolveRootKey(*keystoreFlag, passphrase)
	if err != nil {
		logger.Error("failed to resolve root identity key", slog.Any("error", err))
		os.Exit(1)
	}

	gw := wallet.NewMemoryGateway(rootKey)
	if cfg.IdentityKey == "" {
		cfg.IdentityKey = gw.IdentityKey()
	}

	if err := os.MkdirAll(*dataDirFlag, 0o755); err != nil {
		logger.Error("failed to prepare data directory", slog.Any("error", err))
		os.Exit(1)
	}

	peers, err := peerstore.NewRegistry(filepath.Join(*dataDirFlag, "peers.json"), logger.With(slog.String("component", "peerstore")))
	if err != nil {
		logger.Error("failed to open peer registry", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := peers.Flush(); err != nil {
			logger.Error("failed to flush peer registry", slog.Any("error", err))
		}
	}()

	pol, err := policy.Load(filepath.Join(*dataDirFlag, "policy.json"))
	if err != nil {
		logger.Error("failed to load policy", slog.Any("error", err))
		os.Exit(1)
	}

	events, err := policy.OpenEventLog(filepath.Join(*dataDirFlag, "events.log"))
	if err != nil {
		logger.Error("failed to open event log", slog.Any("error", err))
		os.Exit(1)
	}

	jobs, err := jobstore.New(filepath.Join(*dataDirFlag, "jobs.json"))
	if err != nil {
		logger.Error("failed to open job store", slog.Any("error", err))
		os.Exit(1)
	}

	caps := capability.NewRegistry()
	for _, entry := range capability.BuiltinEntries(capability.Deps{
		Peers:      peers,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		SelfKey:    gw.IdentityKey(),
	}) {
		if err := caps.Register(entry); err != nil {
			logger.Error("failed to register capability", slog.String("name", entry.Name), slog.Any("error", err))
			os.Exit(1)
		}
	}

	metrics := payment.NewMetrics(prometheus.DefaultRegisterer)
	dispatcher := payment.NewDispatcher(caps, gw, peers, logger.With(slog.String("component", "dispatcher")), metrics)
	invites := invite.NewProtocol(gw)

	router := brain.NewRouter(jobs, pol, peers, events, gw, nil, logger.With(slog.String("component", "brain")), localPort(cfg.BindAddr))

	apiKey := strings.TrimSpace(os.Getenv("CLAWSATS_API_KEY"))
	apiKey = ensureAPIKey(apiKey, cfg.BindAddr, logger)

	rpcHandler := &httpapi.RPCHandler{
		Wallet:   gw,
		Config:   cfg,
		Peers:    peers,
		Invites:  invites,
		Dispatch: dispatcher,
		Jobs:     jobs,
		Router:   router,
	}

	server := httpapi.NewServer(httpapi.Deps{
		Wallet:       gw,
		Capabilities: caps,
		Dispatcher:   dispatcher,
		Peers:        peers,
		Invites:      invites,
		Nonces:       security.NewNonceCache(4096),
		Config:       cfg,
		RPC:          rpcHandler,
		APIKey:       apiKey,
		Log:          logger.With(slog.String("component", "httpapi")),
		StartedAt:    time.Now(),
		CORS:         strings.EqualFold(os.Getenv("CLAWSATS_CORS"), "true"),
	})

	daemon := discovery.New(pol, peers, invites, router, events, gw, selfEndpoint(cfg), httpapi.NormalizeEndpoint, logger.With(slog.String("component", "discovery")))
	daemon.DirectoryURL = cfg.DirectoryURL
	daemon.DirectoryRegisterURL = cfg.DirectoryRegisterURL

	if err := nodeconfig.Save(configPath, cfg); err != nil {
		logger.Error("failed to persist wallet config", slog.Any("error", err))
	} else {
		logger.Warn("wallet config written to disk", slog.String("path", configPath))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	daemon.Start(ctx)

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: server,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("clawsats node listening", slog.String("bind", cfg.BindAddr), slog.String("identityKey", cfg.IdentityKey))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("http server failed", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
	}

	daemon.Stop()

	if err := peers.Flush(); err != nil {
		logger.Error("failed to flush peer registry on shutdown", slog.Any("error", err))
	}

	logger.Info("clawsats node stopped")
}

// ensureAPIKey implements §4.8's auto-generated-key requirement: a node
// bound to a non-loopback interface with no configured key gets one
// generated and logged once at startup.
func ensureAPIKey(configured, bindAddr string, logger *slog.Logger) string {
	if configured != "" {
		return configured
	}
	host, _, err := net.SplitHostPort(bindAddr)
	if err != nil {
		host = bindAddr
	}
	ip := net.ParseIP(host)
	loopbackOnly := ip != nil && ip.IsLoopback()
	if loopbackOnly {
		return ""
	}
	key, err := httpapi.GenerateAPIKey()
	if err != nil {
		logger.Error("failed to auto-generate API key", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Warn("no CLAWSATS_API_KEY configured for a non-loopback bind; generated a one-time key", slog.String("apiKey", key))
	return key
}

func localPort(bindAddr string) int {
	_, portStr, err := net.SplitHostPort(bindAddr)
	if err != nil {
		return 8080
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return 8080
	}
	return port
}

func selfEndpoint(cfg nodeconfig.WalletConfig) string {
	if ep, ok := cfg.Endpoints["public"]; ok && ep != "" {
		return ep
	}
	return "http://" + cfg.BindAddr
}
