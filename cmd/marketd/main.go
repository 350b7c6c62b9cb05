// Package main runs the marketplace client daemon: it wires the content
// store client, the ledger clients, the read-state synchronizer and the
// event pump, keeps the cached views warm, and exposes health, status
// and metrics endpoints.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"nftmarket/internal/actions"
	"nftmarket/internal/domain"
	"nftmarket/internal/ipfs"
	"nftmarket/internal/ledger"
	"nftmarket/internal/mint"
	"nftmarket/internal/observability"
	"nftmarket/internal/readmodel"
)

// Server holds the wired client components.
type Server struct {
	rpcEndpoint string
	wsEndpoint  string
	contract    string

	session *domain.Session
	store   *ipfs.Client
	reader  *ledger.Client
	stream  *ledger.WSClient
	view    *readmodel.Synchronizer
	pump    *readmodel.Pump
	minter  *mint.Orchestrator
	actor   *actions.Orchestrator

	logger logrus.FieldLogger

	mu        sync.Mutex
	startedAt time.Time
}

func main() {
	loadEnvFile()

	// Parse flags (env vars as defaults)
	rpcEndpoint := flag.String("rpc-endpoint", os.Getenv("LEDGER_RPC_ENDPOINT"), "Ledger JSON-RPC HTTP endpoint")
	wsEndpoint := flag.String("ws-endpoint", os.Getenv("LEDGER_WS_ENDPOINT"), "Ledger WebSocket endpoint")
	contract := flag.String("contract", os.Getenv("CONTRACT_ADDRESS"), "Marketplace contract address")
	wallet := flag.String("wallet", os.Getenv("WALLET_ADDRESS"), "Wallet address to connect the session with")
	pinataKey := flag.String("pinata-api-key", os.Getenv("PINATA_API_KEY"), "Pinata API key")
	pinataSecret := flag.String("pinata-api-secret", os.Getenv("PINATA_API_SECRET"), "Pinata API secret")
	pinataJWT := flag.String("pinata-jwt", os.Getenv("PINATA_JWT"), "Pinata JWT (alternative to key/secret)")
	gateway := flag.String("gateway", os.Getenv("IPFS_GATEWAY"), "IPFS gateway URL prefix")
	receiptTimeout := flag.Duration("receipt-timeout", 2*time.Minute, "Max wait for a transaction receipt")
	metricsAddr := flag.String("metrics-addr", ":9090", "HTTP address for health/status/metrics")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")

	flag.Parse()

	logger := logrus.New()
	if level, err := logrus.ParseLevel(*logLevel); err == nil {
		logger.SetLevel(level)
	}

	// Validate required configuration
	if *rpcEndpoint == "" {
		logger.Fatal("--rpc-endpoint is required")
	}
	if *wsEndpoint == "" {
		logger.Fatal("--ws-endpoint is required")
	}
	if !common.IsHexAddress(*contract) {
		logger.Fatalf("--contract is required and must be a hex address, got %q", *contract)
	}
	contractAddr := common.HexToAddress(*contract).Hex()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Content store client
	store, err := ipfs.NewClient(ipfs.Config{
		APIKey:    *pinataKey,
		APISecret: *pinataSecret,
		JWT:       *pinataJWT,
		Gateway:   *gateway,
	}, ipfs.WithLogger(logger))
	if err != nil {
		logger.Fatalf("Content store: %v", err)
	}

	// Ledger clients
	reader := ledger.NewClient(*rpcEndpoint, contractAddr, ledger.WithLogger(logger))
	stream, err := ledger.NewWSClient(ctx, *wsEndpoint, contractAddr, nil, ledger.WithWSLogger(logger))
	if err != nil {
		logger.Fatalf("Ledger event stream: %v", err)
	}
	defer stream.Close()

	// Session
	session := domain.NewSession()
	if *wallet != "" {
		if err := session.Connect(*wallet); err != nil {
			logger.Fatalf("Wallet address: %v", err)
		}
	}

	// Read model and orchestrators
	view := readmodel.NewSynchronizer(reader,
		readmodel.WithContentFetcher(store),
		readmodel.WithLogger(logger),
	)
	pump := readmodel.NewPump(stream, view, logger)

	server := &Server{
		rpcEndpoint: *rpcEndpoint,
		wsEndpoint:  *wsEndpoint,
		contract:    contractAddr,
		session:     session,
		store:       store,
		reader:      reader,
		stream:      stream,
		view:        view,
		pump:        pump,
		minter: mint.NewOrchestrator(store, reader, view, session,
			mint.WithLogger(logger), mint.WithReceiptTimeout(*receiptTimeout)),
		actor: actions.NewOrchestrator(reader, view, session,
			actions.WithLogger(logger), actions.WithReceiptTimeout(*receiptTimeout)),
		logger:    logger,
		startedAt: time.Now(),
	}

	done := make(chan error, 1)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Infof("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Warnf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Warn("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	go server.startHTTPServer(*metricsAddr)

	err = server.Run(ctx)
	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Daemon error: %v", err)
	}
	logger.Info("Shutdown complete")
}

// Run starts the event pump, warms the shared views, and blocks until
// the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.WithFields(logrus.Fields{
		"contract": s.contract,
		"rpc":      s.rpcEndpoint,
	}).Info("Starting marketplace client daemon...")

	if err := s.pump.Start(ctx); err != nil {
		return err
	}
	defer s.pump.Stop()

	s.warmCaches(ctx)

	// Verify store credentials in the background; a bad key should show
	// up in the logs before the first upload fails.
	go func() {
		actx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := s.store.TestAuth(actx); err != nil {
			s.logger.WithError(err).Warn("content store authentication check failed")
		}
	}()

	<-ctx.Done()
	return ctx.Err()
}

// warmCaches primes the shared views so the first page render does not
// wait on the ledger. Failures are logged and retried by normal reads.
func (s *Server) warmCaches(ctx context.Context) {
	wctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err := s.view.TokensForSale(wctx); err != nil {
		s.logger.WithError(err).Warn("priming marketplace listing failed")
	}
	if _, err := s.view.ContractStats(wctx); err != nil {
		s.logger.WithError(err).Warn("priming contract stats failed")
	}
	if addr, err := s.session.Address(); err == nil {
		if _, err := s.view.OwnedTokens(wctx, addr); err != nil {
			s.logger.WithError(err).Warn("priming owned tokens failed")
		}
	}
}

// startHTTPServer serves health, status and metrics.
func (s *Server) startHTTPServer(addr string) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/status", s.handleStatus)
	s.registerAPI(mux)

	s.logger.Infof("Starting HTTP server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		s.logger.WithError(err).Error("HTTP server error")
	}
}

// StatusResponse is the JSON response for the /status endpoint.
type StatusResponse struct {
	Status        string `json:"status"`
	Uptime        string `json:"uptime"`
	Contract      string `json:"contract"`
	Wallet        string `json:"wallet,omitempty"`
	ListedTokens  int    `json:"listed_tokens"`
	ListingStale  bool   `json:"listing_stale"`
	ListingLoaded bool   `json:"listing_loaded"`
}

// handleStatus reports daemon state and the listing view's freshness.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	uptime := time.Since(s.startedAt).String()
	s.mu.Unlock()

	resp := StatusResponse{
		Status:   "running",
		Uptime:   uptime,
		Contract: s.contract,
	}
	if addr, err := s.session.Address(); err == nil {
		resp.Wallet = addr
	}
	if v, current, err := s.view.Peek(readmodel.ScopeTokensForSale()); err == nil {
		resp.ListingLoaded = true
		resp.ListingStale = !current
		if ids, ok := v.([]domain.TokenID); ok {
			resp.ListedTokens = len(ids)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
