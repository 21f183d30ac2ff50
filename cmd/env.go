package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/shield/internal/archive"
	"github.com/sells-group/shield/internal/auth"
	"github.com/sells-group/shield/internal/config"
	"github.com/sells-group/shield/internal/engine"
	"github.com/sells-group/shield/internal/events"
	"github.com/sells-group/shield/internal/ledger"
	"github.com/sells-group/shield/internal/lock"
	"github.com/sells-group/shield/internal/reputation"
	"github.com/sells-group/shield/internal/store"
	"github.com/sells-group/shield/internal/transfer"
)

// shieldEnv holds the store, the engine and the collaborators wired from
// configuration. Callers should defer env.Close().
type shieldEnv struct {
	Store   store.Store
	Engine  *engine.Engine
	Broker  *events.Broker
	closers []func() error
}

// Close releases resources in reverse order of acquisition.
func (se *shieldEnv) Close() {
	for i := len(se.closers) - 1; i >= 0; i-- {
		if err := se.closers[i](); err != nil {
			zap.L().Warn("close failed", zap.Error(err))
		}
	}
	if se.Broker != nil {
		se.Broker.Close()
	}
	if se.Store != nil {
		_ = se.Store.Close()
	}
}

func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	switch c.Store.Driver {
	case "sqlite":
		dsn := c.Store.DatabaseURL
		if dsn == "" {
			dsn = "shield.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, c.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: c.Store.MaxConns,
			MinConns: c.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}

// initEnv validates configuration for mode, opens and migrates the store
// and builds the engine.
func initEnv(ctx context.Context, mode string) (*shieldEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	env := &shieldEnv{Store: st, Broker: events.NewBroker()}

	if err := st.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	provider, err := initAuth(cfg)
	if err != nil {
		env.Close()
		return nil, err
	}
	transfers, err := initTransfers(cfg)
	if err != nil {
		env.Close()
		return nil, err
	}
	locker, err := initLocker(ctx, cfg, env)
	if err != nil {
		env.Close()
		return nil, err
	}
	arch, err := initArchive(ctx, cfg)
	if err != nil {
		env.Close()
		return nil, err
	}

	env.Engine, err = engine.New(engine.Deps{
		Store:      st,
		Locker:     locker,
		Transfers:  transfers,
		Auth:       provider,
		Reputation: initReputation(cfg, st),
		Archive:    arch,
		Events:     env.Broker,
	})
	if err != nil {
		env.Close()
		return nil, err
	}

	zap.L().Debug("environment ready",
		zap.String("store", cfg.Store.Driver),
		zap.String("auth", cfg.AuthMode()),
		zap.String("transfer", cfg.Transfer.Driver),
		zap.String("lock", cfg.Lock.Driver),
		zap.String("archive", cfg.Archive.Driver),
		zap.Bool("ethos", cfg.Features.UseEthosReputation),
	)
	return env, nil
}

func initAuth(c *config.Config) (auth.Provider, error) {
	switch c.AuthMode() {
	case "", "trusted":
		return auth.NewTrusted(c.Auth.Roles), nil
	case "wallet":
		return auth.NewWallet(c.Auth.Roles, c.Auth.ChallengeMaxAge), nil
	case "session":
		return auth.NewSession(c.Auth.Secret, c.Auth.Roles)
	default:
		return nil, eris.Errorf("unsupported auth mode: %s", c.AuthMode())
	}
}

func initReputation(c *config.Config, st store.Store) reputation.Provider {
	native := reputation.NewNative(st)
	if !c.Features.UseEthosReputation {
		return native
	}
	opts := []reputation.EthosOption{
		reputation.WithRetry(c.Retry.Policy),
		reputation.WithBreaker(c.Retry.Breaker),
	}
	if c.Reputation.APIKey != "" {
		opts = append(opts, reputation.WithAPIKey(c.Reputation.APIKey))
	}
	if c.Reputation.RateLimit > 0 {
		opts = append(opts, reputation.WithRateLimit(c.Reputation.RateLimit))
	}
	return reputation.NewEthos(c.Reputation.EthosURL, native, opts...)
}

func initTransfers(c *config.Config) (engine.Transferer, error) {
	switch c.Transfer.Driver {
	case "", "book":
		return ledger.NewBook(), nil
	case "gateway":
		gw := c.Transfer.Gateway
		if gw.Retry.Attempts == 0 {
			gw.Retry = c.Retry.Policy
		}
		if gw.Breaker.Threshold == 0 {
			gw.Breaker = c.Retry.Breaker
		}
		return transfer.NewGateway(gw, nil)
	default:
		return nil, eris.Errorf("unsupported transfer driver: %s", c.Transfer.Driver)
	}
}

func initLocker(ctx context.Context, c *config.Config, env *shieldEnv) (lock.Locker, error) {
	switch c.Lock.Driver {
	case "", "local":
		return lock.NewLocal(), nil
	case "redis":
		r, err := lock.NewRedis(ctx, c.Lock.Redis)
		if err != nil {
			return nil, err
		}
		env.closers = append(env.closers, r.Close)
		return r, nil
	default:
		return nil, eris.Errorf("unsupported lock driver: %s", c.Lock.Driver)
	}
}

func initArchive(ctx context.Context, c *config.Config) (archive.Archiver, error) {
	switch c.Archive.Driver {
	case "", "nop":
		return archive.Nop{}, nil
	case "fs":
		return archive.NewFS(c.Archive.Dir)
	case "s3":
		return archive.NewS3(ctx, c.Archive.S3)
	default:
		return nil, eris.Errorf("unsupported archive driver: %s", c.Archive.Driver)
	}
}

// adminCredential is the identity CLI commands act as.
func adminCredential() auth.Credential {
	return auth.Credential{Identity: cfg.Auth.Identity}
}
