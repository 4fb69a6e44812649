/*
Package factory turns configuration into a wired settlement engine.

PURPOSE:
  The server and the worker run the same engine over the same stores.
  NewEngine picks the storage, dedup and gateway drivers named in the
  config, wires them into a settlement.Service, and hands back one Close
  that releases everything it opened.

DRIVERS:
  storage: memory | sqlite     (sqlite also serves the catalog)
  dedup:   store  | redis      (store uses the storage driver's table/map)
  gateway: simulated | stripe

SEEDING:
  An empty catalog is seeded with catalog.DefaultRecipes so a fresh
  install can take orders immediately.

SEE ALSO:
  - config/config.go: Driver names and defaults
  - cmd/server, cmd/worker: Callers
*/
package factory

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/warp/payment-engine/api"
	"github.com/warp/payment-engine/catalog"
	"github.com/warp/payment-engine/config"
	"github.com/warp/payment-engine/gateway"
	"github.com/warp/payment-engine/settlement"
	memstore "github.com/warp/payment-engine/settlement/store"
	redisstore "github.com/warp/payment-engine/store/redis"
	"github.com/warp/payment-engine/store/sqlite"
)

// Engine is a fully wired service plus the handles needed to tear it down.
type Engine struct {
	Service  *settlement.Service
	Verifier *gateway.WebhookVerifier

	fixtures *api.Fixtures
	closers  []func() error
}

type Option func(*options)

type options struct {
	deadLetters settlement.DeadLetterSink
	now         func() time.Time
}

// WithDeadLetters routes unknown-order events to sink instead of the log.
func WithDeadLetters(sink settlement.DeadLetterSink) Option {
	return func(o *options) { o.deadLetters = sink }
}

// WithClock overrides the engine clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// NewEngine builds the engine described by cfg. On error everything opened
// so far is closed.
func NewEngine(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *Engine, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	eng := &Engine{Verifier: gateway.NewWebhookVerifier(cfg.StripeWebhookSecret)}
	defer func() {
		if err != nil {
			eng.Close()
		}
	}()

	fees, err := settlement.NewFeeCalculator(cfg.FeeRate)
	if err != nil {
		return nil, err
	}

	var (
		txStore settlement.TxStore
		cat     settlement.Catalog
		editor  api.RecipeEditor
		reset   []api.Resetter
	)
	switch cfg.StorageDriver {
	case config.StorageSQLite:
		db, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		eng.closers = append(eng.closers, db.Close)
		txStore, cat, editor = db, db, db
		reset = []api.Resetter{db}
	case config.StorageMemory:
		mem := memstore.NewMemory()
		memCat := catalog.NewMemory()
		txStore, cat, editor = mem, memCat, memCat
		reset = []api.Resetter{mem, memCat}
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}

	if err := seedCatalog(ctx, cat, editor, o.now()); err != nil {
		return nil, err
	}

	var dedup settlement.DedupLedger
	switch cfg.DedupDriver {
	case config.DedupRedis:
		client, err := redisstore.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		eng.closers = append(eng.closers, client.Close)
		dedup = redisstore.NewDedup(client, cfg.DedupTTL)
	case config.DedupStore:
		d, ok := txStore.(settlement.DedupLedger)
		if !ok {
			return nil, fmt.Errorf("storage driver %q has no dedup ledger", cfg.StorageDriver)
		}
		dedup = d
	default:
		return nil, fmt.Errorf("unknown dedup driver %q", cfg.DedupDriver)
	}

	gw, err := newGateway(cfg, o.now)
	if err != nil {
		return nil, err
	}

	eng.Service = settlement.NewService(settlement.ServiceDeps{
		Store:       txStore,
		Dedup:       dedup,
		Catalog:     cat,
		Gateway:     gw,
		Fees:        &fees,
		DeadLetters: o.deadLetters,
		Logger:      logger,
		Now:         o.now,
	})
	eng.fixtures = &api.Fixtures{Resetters: reset, Recipes: editor, Now: o.now}

	logger.Info("engine ready",
		zap.String("storage", cfg.StorageDriver),
		zap.String("dedup", cfg.DedupDriver),
		zap.String("gateway", cfg.GatewayDriver),
		zap.String("fee_rate", cfg.FeeRate.String()),
		zap.Bool("webhook_signatures", eng.Verifier.Enabled()))
	return eng, nil
}

func newGateway(cfg config.Config, now func() time.Time) (settlement.Gateway, error) {
	switch cfg.GatewayDriver {
	case config.GatewayStripe:
		return gateway.NewStripe(gateway.StripeConfig{
			SecretKey: cfg.StripeSecretKey,
			BaseURL:   cfg.StripeBaseURL,
		})
	case config.GatewaySimulated:
		seed := cfg.GatewaySeed
		if seed == 0 {
			seed = now().UnixNano()
		}
		return gateway.NewSimulated(cfg.FailureRate, rand.NewSource(seed))
	}
	return nil, fmt.Errorf("unknown gateway driver %q", cfg.GatewayDriver)
}

func seedCatalog(ctx context.Context, cat settlement.Catalog, editor api.RecipeEditor, now time.Time) error {
	existing, err := cat.ListRecipes(ctx)
	if err != nil {
		return fmt.Errorf("list recipes: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}
	for _, r := range catalog.DefaultRecipes(now) {
		if err := editor.AddRecipe(ctx, r); err != nil {
			return fmt.Errorf("seed recipe %s: %w", r.ID, err)
		}
	}
	return nil
}

// Fixtures exposes the stores to the demo scenario loader.
func (e *Engine) Fixtures() *api.Fixtures {
	return e.fixtures
}

// Close releases every resource in reverse order of acquisition.
func (e *Engine) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}
