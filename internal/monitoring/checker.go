package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/shield/internal/auth"
	"github.com/sells-group/shield/internal/config"
	"github.com/sells-group/shield/internal/engine"
)

const defaultCheckInterval = 5 * time.Minute

// Sweeper advances time-driven state transitions.
type Sweeper interface {
	ExpireDue(ctx context.Context, cred auth.Credential) (engine.SweepResult, error)
}

// Checker runs periodic solvency checks and expiry sweeps in the background.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	sweeper   Sweeper
	identity  string
	cfg       config.MonitoringConfig
}

// NewChecker creates a background checker. A nil sweeper disables sweeps.
func NewChecker(collector *Collector, alerter *Alerter, sweeper Sweeper, identity string, cfg config.MonitoringConfig) *Checker {
	return &Checker{collector: collector, alerter: alerter, sweeper: sweeper, identity: identity, cfg: cfg}
}

// Run ticks until ctx is done. It blocks.
func (c *Checker) Run(ctx context.Context) {
	every := defaultCheckInterval
	if c.cfg.CheckIntervalSecs > 0 {
		every = time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	}

	log := zap.L().With(zap.String("component", "monitoring"))
	log.Info("solvency checker running", zap.Duration("every", every), zap.Bool("sweep", c.sweeps()))

	tick := time.NewTicker(every)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			c.check(ctx, log)
		case <-ctx.Done():
			log.Info("solvency checker stopped")
			return
		}
	}
}

func (c *Checker) sweeps() bool {
	return c.cfg.Sweep && c.sweeper != nil
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	snap, err := c.collector.Collect(ctx)
	if err != nil {
		log.Error("collect solvency snapshot", zap.Error(err))
		return
	}
	if !snap.Initialized {
		return
	}

	if c.sweeps() {
		switch res, err := c.sweeper.ExpireDue(ctx, auth.Credential{Identity: c.identity}); {
		case err != nil:
			log.Error("expiry sweep", zap.Error(err))
		case res.Total() > 0:
			log.Info("expiry sweep advanced records",
				zap.Int("grace_period", res.GracePeriod),
				zap.Int("policies_expired", res.PoliciesExpired),
				zap.Int("claims_expired", res.ClaimsExpired),
				zap.Int("claims_arbitrated", res.ClaimsArbitrated),
			)
		}
	}

	if alerts := c.alerter.Evaluate(snap); len(alerts) > 0 {
		delivered := c.alerter.SendAlerts(ctx, alerts)
		log.Warn("solvency thresholds breached",
			zap.Uint64("reserve_ratio", snap.ReserveRatio),
			zap.Int("alerts", len(alerts)),
			zap.Int("delivered", delivered),
		)
	}
}
