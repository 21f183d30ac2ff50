// Package transfer moves value through an external payment gateway.
package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/shield/internal/fault"
	"github.com/sells-group/shield/internal/model"
	"github.com/sells-group/shield/internal/resilience"
	"github.com/sells-group/shield/internal/store"
)

// IdempotencyHeader carries the key that lets the gateway collapse retries.
const IdempotencyHeader = "Idempotency-Key"

// Config configures a Gateway.
type Config struct {
	URL     string                   `yaml:"url" mapstructure:"url"`
	APIKey  string                   `yaml:"api_key" mapstructure:"api_key"`
	Timeout time.Duration            `yaml:"timeout" mapstructure:"timeout"`
	Retry   resilience.RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Breaker resilience.BreakerConfig `yaml:"breaker" mapstructure:"breaker"`
}

// Gateway posts transfers to {URL}/transfers. It ignores the engine
// transaction; a transfer that succeeded at the gateway is not undone when
// the engine later rolls back.
type Gateway struct {
	cfg     Config
	http    *http.Client
	breaker *resilience.Breaker
	newKey  func() string
}

// NewGateway returns a gateway client. A nil hc uses a client with
// cfg.Timeout (10s when unset).
func NewGateway(cfg Config, hc *http.Client) (*Gateway, error) {
	if cfg.URL == "" {
		return nil, eris.New("transfer: gateway url is required")
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Gateway{
		cfg:     cfg,
		http:    hc,
		breaker: resilience.NewBreaker("transfer-gateway", cfg.Breaker),
		newKey:  func() string { return uuid.NewString() },
	}, nil
}

type transferResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Transfer sends t to the gateway, retrying transient failures under one
// idempotency key: t.Key, or a fresh one when unset. Any failure is
// reported as fault.ErrTransferFailed.
func (g *Gateway) Transfer(ctx context.Context, _ store.Tx, t model.Transfer) error {
	if t.Amount == 0 {
		return nil
	}
	if t.From == "" || t.To == "" || t.From == t.To {
		return fault.ErrInvalidTransfer.With("transfer %s -> %s", t.From, t.To)
	}

	body, err := json.Marshal(t)
	if err != nil {
		return fault.ErrTransferFailed.Wrap(eris.Wrap(err, "transfer: encode"))
	}
	key := t.Key
	if key == "" {
		key = g.newKey()
	}

	var out transferResponse
	err = resilience.Guard(ctx, g.breaker, g.cfg.Retry, "transfer.post", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.URL+"/transfers", bytes.NewReader(body))
		if err != nil {
			return eris.Wrap(err, "transfer: build request")
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(IdempotencyHeader, key)
		if g.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
		}

		resp, err := g.http.Do(req)
		if err != nil {
			return resilience.Transient(eris.Wrap(err, "transfer: request"), 0)
		}
		defer resp.Body.Close() //nolint:errcheck

		if err := resilience.CheckResponse(resp, "transfer"); err != nil {
			return err
		}
		return eris.Wrap(json.NewDecoder(resp.Body).Decode(&out), "transfer: decode response")
	})
	if err != nil {
		zap.L().Warn("gateway transfer failed",
			zap.String("component", "transfer"),
			zap.String("from", t.From),
			zap.String("to", t.To),
			zap.Uint64("amount", t.Amount),
			zap.String("idempotency_key", key),
			zap.Error(err),
		)
		return fault.ErrTransferFailed.Wrap(err)
	}

	zap.L().Info("gateway transfer completed",
		zap.String("component", "transfer"),
		zap.String("transfer_id", out.ID),
		zap.String("status", out.Status),
		zap.Uint64("amount", t.Amount),
	)
	return nil
}
