// Package node wires a token wallet daemon: storage, the unlocked wallet,
// the ledger, the overlay and mailbox collaborators, the service and the
// RPC server. It can be embedded in any binary.
package node

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bsv-blockchain-demos/utility-tokens/config"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/ledger"
	klog "github.com/bsv-blockchain-demos/utility-tokens/internal/log"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/mailbox"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/metrics"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/overlay"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/rpc"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/storage"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/tokenwallet"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/wallet"
	"github.com/bsv-blockchain-demos/utility-tokens/pkg/crypto"
)

// Namespaces inside the daemon database.
var (
	prefixLedger  = []byte("ledger/")
	prefixWallet  = []byte("wallet/")
	prefixOverlay = []byte("overlay/")
	prefixMailbox = []byte("mailbox/")
	prefixService = []byte("service/")
)

// Paths the locally hosted collaborators are served under.
const (
	OverlayPath = "/overlay"
	MailboxPath = "/mailbox"
)

// pendingPollInterval is how often Start checks the mailbox for new
// incoming transfers.
const pendingPollInterval = 30 * time.Second

// Node is a fully-initialized token wallet daemon.
type Node struct {
	cfg    *config.Config
	logger zerolog.Logger

	// Core
	db       storage.DB
	ledger   *ledger.Ledger
	identity *crypto.PrivateKey
	wallet   *wallet.LocalWallet
	service  *tokenwallet.Service

	// Locally hosted collaborators (nil when remote).
	engine *overlay.LocalEngine
	hub    *mailbox.Hub

	// RPC
	rpcServer *rpc.Server

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and initializes a Node. It unlocks cfg.Wallet.Name with
// password, wires every component and starts the RPC listener, but does
// NOT start background goroutines. Call Start() for that.
func New(cfg *config.Config, password []byte) (*Node, error) {
	// ── 1. Init logger ──────────────────────────────────────────────
	logFile := cfg.Log.File
	if logFile == "" {
		logsDir := cfg.LogsDir()
		if err := os.MkdirAll(logsDir, 0755); err != nil {
			return nil, fmt.Errorf("creating logs dir: %w", err)
		}
		logFile = filepath.Join(logsDir, "tokend.log")
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logger := klog.Node

	logger.Info().
		Str("datadir", cfg.DataDir).
		Str("wallet", cfg.Wallet.Name).
		Str("overlay", describeRemote(cfg.Overlay.URL)).
		Str("mailbox", describeRemote(cfg.Mailbox.URL)).
		Msg("Starting token wallet daemon")

	// ── 2. Unlock wallet ────────────────────────────────────────────
	identity, err := unlockWallet(cfg.KeystoreDir(), cfg.Wallet.Name, password)
	if err != nil {
		return nil, err
	}
	logger.Info().
		Str("identity", identity.PublicKeyHex()[:16]+"...").
		Msg("Wallet unlocked")

	// ── 3. Open storage ─────────────────────────────────────────────
	db, err := storage.NewBadger(cfg.DBDir())
	if err != nil {
		identity.Zero()
		return nil, fmt.Errorf("open database at %s: %w", cfg.DBDir(), err)
	}
	logger.Info().Str("path", cfg.DBDir()).Msg("Database opened")

	fail := func(err error) (*Node, error) {
		db.Close()
		identity.Zero()
		return nil, err
	}

	// ── 4. Ledger and wallet ────────────────────────────────────────
	l, err := ledger.New(storage.NewPrefixDB(db, prefixLedger))
	if err != nil {
		return fail(fmt.Errorf("open ledger: %w", err))
	}
	w, err := wallet.NewLocal(identity, storage.NewPrefixDB(db, prefixWallet), l)
	if err != nil {
		return fail(fmt.Errorf("open wallet: %w", err))
	}

	// ── 5. Overlay ──────────────────────────────────────────────────
	var (
		engine      *overlay.LocalEngine
		broadcaster overlay.Broadcaster
	)
	if cfg.Overlay.URL == "" {
		engine = overlay.NewLocalEngine(storage.NewPrefixDB(db, prefixOverlay), l)
		broadcaster = engine
	} else {
		broadcaster = overlay.NewHTTPFacilitator(cfg.Overlay.URL)
	}

	// ── 6. Mailbox ──────────────────────────────────────────────────
	var (
		hub    *mailbox.Hub
		client mailbox.Client
	)
	if cfg.Mailbox.URL == "" {
		hub = mailbox.NewHub(storage.NewPrefixDB(db, prefixMailbox))
		client = hub.For(identity.PublicKeyHex())
	} else {
		client = mailbox.NewHTTPClient(cfg.Mailbox.URL, identity.PublicKeyHex())
	}

	// ── 7. Service ──────────────────────────────────────────────────
	ctx, cancel := context.WithCancel(context.Background())
	svc, err := tokenwallet.New(ctx, tokenwallet.Options{
		Wallet:  w,
		Overlay: broadcaster,
		Mailbox: client,
		DB:      storage.NewPrefixDB(db, prefixService),
	})
	if err != nil {
		cancel()
		return fail(fmt.Errorf("create token service: %w", err))
	}

	// ── 8. RPC server ───────────────────────────────────────────────
	var rpcServer *rpc.Server
	if cfg.RPC.Enabled {
		addr := fmt.Sprintf("%s:%d", cfg.RPC.Addr, cfg.RPC.Port)
		rpcServer = rpc.New(addr, svc, cfg.RPC)
		rpcServer.SetLedger(l)
		if cfg.Metrics.Enabled {
			rpcServer.Handle("/metrics", metrics.Handler())
		}
		if engine != nil {
			rpcServer.Handle(OverlayPath+"/", http.StripPrefix(OverlayPath, engine.Handler()))
		}
		if hub != nil {
			rpcServer.Handle(MailboxPath+"/", http.StripPrefix(MailboxPath, mailbox.Handler(hub)))
		}
		if err := rpcServer.Start(); err != nil {
			cancel()
			return fail(fmt.Errorf("start rpc: %w", err))
		}
		logger.Info().
			Str("addr", rpcServer.Addr()).
			Bool("metrics", cfg.Metrics.Enabled).
			Bool("hosts_overlay", engine != nil).
			Bool("hosts_mailbox", hub != nil).
			Msg("RPC server started")
	} else {
		logger.Warn().Msg("RPC disabled by config")
	}

	return &Node{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		ledger:    l,
		identity:  identity,
		wallet:    w,
		service:   svc,
		engine:    engine,
		hub:       hub,
		rpcServer: rpcServer,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start refreshes balances and launches the pending transfer watcher.
func (n *Node) Start() error {
	if err := n.service.Refresh(n.ctx); err != nil {
		return fmt.Errorf("initial refresh: %w", err)
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.runPendingWatch(pendingPollInterval)
	}()

	balances, err := n.service.Balances(n.ctx)
	if err != nil {
		return fmt.Errorf("balances: %w", err)
	}
	n.logger.Info().
		Str("identity", n.service.IdentityKey()).
		Int("tokens", len(balances)).
		Msg("Node started successfully")

	return nil
}

// runPendingWatch logs incoming transfers as they arrive. Listing also
// keeps the pending gauge current.
func (n *Node) runPendingWatch(interval time.Duration) {
	seen := make(map[string]bool)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		pending, err := n.service.Pending(n.ctx)
		if err != nil {
			n.logger.Debug().Err(err).Msg("Pending transfer poll failed")
		}
		current := make(map[string]bool, len(pending))
		for _, p := range pending {
			current[p.MessageID] = true
			if seen[p.MessageID] {
				continue
			}
			n.logger.Info().
				Str("message", p.MessageID).
				Str("token", p.Identity.Short()).
				Str("label", p.Label).
				Uint64("amount", p.Amount).
				Msg("Incoming transfer waiting")
		}
		seen = current

		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop performs graceful shutdown in reverse order.
func (n *Node) Stop() {
	n.cancel()
	n.wg.Wait()

	if n.rpcServer != nil {
		n.rpcServer.Stop()
	}
	if n.identity != nil {
		n.identity.Zero()
	}
	if n.db != nil {
		n.db.Close()
	}

	n.logger.Info().Msg("Goodbye!")
}

// RPCAddr returns the address the RPC server is listening on.
func (n *Node) RPCAddr() string {
	if n.rpcServer == nil {
		return ""
	}
	return n.rpcServer.Addr()
}

// Service returns the token wallet service.
func (n *Node) Service() *tokenwallet.Service {
	return n.service
}

// Ledger returns the local ledger.
func (n *Node) Ledger() *ledger.Ledger {
	return n.ledger
}
