package reputation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/shield/internal/resilience"
)

// DefaultEthosURL is the public Ethos Network API.
const DefaultEthosURL = "https://api.ethos.network"

// EthosMaxScore is the top of the Ethos credibility scale.
const EthosMaxScore = 2800

// EthosOption configures an Ethos client.
type EthosOption func(*Ethos)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) EthosOption {
	return func(e *Ethos) { e.http = hc }
}

// WithRateLimit caps requests per second.
func WithRateLimit(rps float64) EthosOption {
	return func(e *Ethos) { e.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1)) }
}

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) EthosOption {
	return func(e *Ethos) { e.apiKey = key }
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) EthosOption {
	return func(e *Ethos) { e.retry = cfg }
}

// WithBreaker overrides the circuit breaker settings.
func WithBreaker(cfg resilience.BreakerConfig) EthosOption {
	return func(e *Ethos) { e.breaker = resilience.NewBreaker("ethos", cfg) }
}

// Ethos reads scores from the Ethos Network and falls back to another
// provider when the service is unavailable. Outcomes are recorded with the
// fallback only; Ethos is read-only from here.
type Ethos struct {
	baseURL  string
	apiKey   string
	http     *http.Client
	limiter  *rate.Limiter
	retry    resilience.RetryConfig
	breaker  *resilience.Breaker
	fallback Provider
}

// NewEthos returns a client for baseURL (DefaultEthosURL when empty).
func NewEthos(baseURL string, fallback Provider, opts ...EthosOption) *Ethos {
	if baseURL == "" {
		baseURL = DefaultEthosURL
	}
	e := &Ethos{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: 10 * time.Second},
		limiter:  rate.NewLimiter(10, 10),
		retry:    resilience.DefaultRetry(),
		breaker:  resilience.NewBreaker("ethos", resilience.BreakerConfig{}),
		fallback: fallback,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type ethosScoreResponse struct {
	Data struct {
		Score int64 `json:"score"`
	} `json:"data"`
}

// Normalize maps an Ethos credibility score onto 0-100.
func Normalize(raw int64) uint8 {
	raw = min(max(raw, 0), EthosMaxScore)
	return uint8(raw * 100 / EthosMaxScore)
}

// Fetch returns the normalized Ethos score without falling back.
func (e *Ethos) Fetch(ctx context.Context, identity string) (uint8, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return 0, eris.Wrap(err, "ethos: rate limit")
	}

	endpoint := e.baseURL + "/api/v1/score/" + url.PathEscape("address:"+identity)
	var out ethosScoreResponse
	err := resilience.Guard(ctx, e.breaker, e.retry, "ethos.score", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return eris.Wrap(err, "ethos: build request")
		}
		req.Header.Set("Accept", "application/json")
		if e.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+e.apiKey)
		}

		resp, err := e.http.Do(req)
		if err != nil {
			return resilience.Transient(eris.Wrap(err, "ethos: request"), 0)
		}
		defer resp.Body.Close() //nolint:errcheck

		if err := resilience.CheckResponse(resp, "ethos"); err != nil {
			return err
		}
		return eris.Wrap(json.NewDecoder(resp.Body).Decode(&out), "ethos: decode score")
	})
	if err != nil {
		return 0, err
	}
	return Normalize(out.Data.Score), nil
}

func (e *Ethos) Score(ctx context.Context, identity string) (uint8, error) {
	score, err := e.Fetch(ctx, identity)
	if err == nil {
		return score, nil
	}
	zap.L().Warn("ethos score unavailable, using fallback",
		zap.String("component", "reputation"),
		zap.String("identity", identity),
		zap.Error(err),
	)
	if e.fallback == nil {
		return DefaultScore, nil
	}
	return e.fallback.Score(ctx, identity)
}

func (e *Ethos) RecordOutcome(ctx context.Context, identity string, o Outcome) error {
	if e.fallback == nil {
		return nil
	}
	return e.fallback.RecordOutcome(ctx, identity, o)
}
