package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/shield/internal/config"
	"github.com/sells-group/shield/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertReserveBelowTarget   AlertType = "reserve_below_target"
	AlertReserveCritical      AlertType = "reserve_critical"
	AlertClaimsExceedPremiums AlertType = "claims_exceed_premiums"
	AlertArbitrationBacklog   AlertType = "arbitration_backlog"
)

// Alert is one threshold breach, posted to the webhook as JSON.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter turns solvency snapshots into alerts and delivers them.
type Alerter struct {
	cfg    config.MonitoringConfig
	retry  resilience.RetryConfig
	client *http.Client
}

// NewAlerter builds an Alerter. retry governs webhook redelivery.
func NewAlerter(cfg config.MonitoringConfig, retry resilience.RetryConfig) *Alerter {
	return &Alerter{cfg: cfg, retry: retry, client: &http.Client{Timeout: 10 * time.Second}}
}

// Evaluate returns the alerts snap warrants, or nil before initialization.
func (a *Alerter) Evaluate(snap *SolvencySnapshot) []Alert {
	if !snap.Initialized {
		return nil
	}
	var alerts []Alert
	now := time.Now().UTC()

	// Reserve ratio reads 100 with no liability, so only a covered book can breach.
	if snap.TotalLiability > 0 {
		reserve := map[string]any{
			"reserve_ratio":   snap.ReserveRatio,
			"target":          snap.TargetReserveRatio,
			"base":            snap.BaseReserveRatio,
			"total_capital":   snap.TotalCapital,
			"total_liability": snap.TotalLiability,
		}
		switch {
		case snap.ReserveRatio < snap.BaseReserveRatio:
			alerts = append(alerts, Alert{
				Type:     AlertReserveCritical,
				Severity: "critical",
				Message: fmt.Sprintf("Reserve ratio %d%% is below the base reserve %d%% (capital %d, liability %d)",
					snap.ReserveRatio, snap.BaseReserveRatio, snap.TotalCapital, snap.TotalLiability),
				Details:   reserve,
				Timestamp: now,
			})
		case snap.ReserveRatio < snap.TargetReserveRatio:
			alerts = append(alerts, Alert{
				Type:     AlertReserveBelowTarget,
				Severity: "high",
				Message: fmt.Sprintf("Reserve ratio %d%% is below target %d%%",
					snap.ReserveRatio, snap.TargetReserveRatio),
				Details:   reserve,
				Timestamp: now,
			})
		}
	}

	if snap.PremiumToClaimsRatio < 100 {
		alerts = append(alerts, Alert{
			Type:     AlertClaimsExceedPremiums,
			Severity: "medium",
			Message: fmt.Sprintf("Claims paid %d exceed premiums collected %d (ratio %d%%)",
				snap.ClaimsPaid, snap.TotalPremiums, snap.PremiumToClaimsRatio),
			Details: map[string]any{
				"premium_to_claims_ratio": snap.PremiumToClaimsRatio,
				"loss_ratio":              snap.LossRatio,
			},
			Timestamp: now,
		})
	}

	if a.cfg.ArbitrationBacklog > 0 && snap.ArbitrationClaims > a.cfg.ArbitrationBacklog {
		alerts = append(alerts, Alert{
			Type:     AlertArbitrationBacklog,
			Severity: "medium",
			Message: fmt.Sprintf("%d claim(s) await arbitration, above the backlog limit of %d",
				snap.ArbitrationClaims, a.cfg.ArbitrationBacklog),
			Details: map[string]any{
				"arbitration_claims": snap.ArbitrationClaims,
				"threshold":          a.cfg.ArbitrationBacklog,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts posts each alert to the webhook and returns how many were
// accepted. Retryable statuses are retried under the alerter's policy.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" {
		return 0
	}
	log := zap.L().With(zap.String("component", "monitoring"))

	delivered := 0
	for _, alert := range alerts {
		err := resilience.Retry(ctx, a.retry, "alert_webhook", func(ctx context.Context) error {
			return a.post(ctx, alert)
		})
		if err != nil {
			log.Error("alert delivery failed", zap.String("type", string(alert.Type)), zap.Error(err))
			continue
		}
		log.Info("alert delivered", zap.String("type", string(alert.Type)), zap.String("severity", alert.Severity))
		delivered++
	}
	return delivered
}

func (a *Alerter) post(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrapf(err, "monitoring: encode %s alert", alert.Type)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "monitoring: build alert request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shield-Alert", string(alert.Type))

	resp, err := a.client.Do(req)
	if err != nil {
		return resilience.Transient(eris.Wrap(err, "monitoring: post alert"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck
	return resilience.CheckResponse(resp, "monitoring webhook")
}
