// Command signetd runs the Signet NIP-46 remote-signing daemon: it
// loads the on-disk config, opens the SQLite store, wires up the
// vault, ACL evaluator, pending-approval queue, connection tokens,
// audit log, relay pool, and one NIP-46 backend per online key, then
// blocks until told to shut down.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/btcforplebs/Signet/internal/acl"
	"github.com/btcforplebs/Signet/internal/audit"
	"github.com/btcforplebs/Signet/internal/bus"
	"github.com/btcforplebs/Signet/internal/config"
	"github.com/btcforplebs/Signet/internal/controlplane"
	"github.com/btcforplebs/Signet/internal/pending"
	"github.com/btcforplebs/Signet/internal/relaypool"
	"github.com/btcforplebs/Signet/internal/signerbackend"
	"github.com/btcforplebs/Signet/internal/store"
	"github.com/btcforplebs/Signet/internal/submgr"
	"github.com/btcforplebs/Signet/internal/tokenstore"
	"github.com/btcforplebs/Signet/internal/vault"
)

const (
	tokenJanitorInterval   = 60 * time.Second
	requestJanitorInterval = 60 * time.Second
	requestRetention       = 24 * time.Hour
	heartbeatInterval      = 60 * time.Second
)

func main() {
	configPath := flag.String("config", "signet.json", "path to the daemon's JSON config file")
	dbPath := flag.String("db", "signet.db", "path to the SQLite store")
	devLog := flag.Bool("dev", false, "use a human-readable development logger instead of JSON")
	flag.Parse()

	logger, err := newLogger(*devLog)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	cfg, err := config.Load(*configPath)
	if err != nil {
		sugar.Fatalw("failed to load config", "path", *configPath, "error", err)
	}
	cfgStore := config.NewStore(cfg)

	sugar.Infow("starting signetd", "bind_addr", cfg.BindAddr, "relays", cfg.Relays)

	db, err := store.Open(*dbPath)
	if err != nil {
		sugar.Fatalw("failed to open store", "path", *dbPath, "error", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		sugar.Fatalw("failed to run migrations", "error", err)
	}

	eventBus := bus.New()
	aclEval := acl.New(db, sugar.Named("acl"))
	pendingQueue := pending.New(db, eventBus, aclEval)
	tokens := tokenstore.New(db, aclEval)
	auditLog := audit.New(db, eventBus)

	pool := relaypool.New(eventBus, sugar.Named("relaypool"))
	for _, url := range cfg.Relays {
		pool.EnsureRelay(url)
	}

	subManager := submgr.New(pool, heartbeatInterval, sugar.Named("submgr"))

	v := vault.New(cfgStore, *configPath, db, sugar.Named("vault"))

	backends := signerbackend.New(
		db, aclEval, pendingQueue, tokens, auditLog, subManager, eventBus,
		pool.Publish, cfg.AdminSecret, sugar.Named("signerbackend"),
	)
	backends.Attach(v)

	svc := controlplane.New(cfgStore, v, aclEval, pendingQueue, tokens, auditLog, eventBus, pool, db)
	_ = svc // consumed by the (separately built) HTTP handler layer

	v.ActivateAll()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go subManager.Run(ctx)
	go pool.HealthLoop(ctx)
	go runJanitor(ctx, sugar.Named("janitor"), "expired connection tokens", tokenJanitorInterval, func() error {
		return sweepExpiredTokens(db)
	})
	go runJanitor(ctx, sugar.Named("janitor"), "expired requests", requestJanitorInterval, func() error {
		n, err := db.CleanupExpiredRequests(requestRetention)
		if err == nil && n > 0 {
			sugar.Infow("expired requests cleaned up", "count", n)
		}
		return err
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	sugar.Info("shutting down")
	cancel()
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// runJanitor runs fn on every tick until ctx is cancelled, logging (but
// not exiting on) individual failures.
func runJanitor(ctx context.Context, log *zap.SugaredLogger, label string, interval time.Duration, fn func() error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(); err != nil {
				log.Warnw("janitor sweep failed", "task", label, "error", err)
			}
		}
	}
}

// sweepExpiredTokens deletes connection tokens whose TTL has lapsed and
// were never redeemed; redeemed tokens are left for audit purposes.
func sweepExpiredTokens(db *store.Store) error {
	toks, err := db.ListAllConnectionTokens()
	if err != nil {
		return fmt.Errorf("list connection tokens: %w", err)
	}
	now := time.Now().Unix()
	for _, t := range toks {
		if t.RedeemedAt == nil && t.ExpiresAt < now {
			if err := db.DeleteConnectionToken(t.ID); err != nil {
				return fmt.Errorf("delete expired token %s: %w", t.ID, err)
			}
		}
	}
	return nil
}
