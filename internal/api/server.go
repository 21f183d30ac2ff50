// Package api exposes the engine over a JSON HTTP interface.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/shield/internal/config"
	"github.com/sells-group/shield/internal/engine"
	"github.com/sells-group/shield/internal/monitoring"
)

// Credential headers.
const (
	HeaderIdentity  = "X-Shield-Identity"
	HeaderSignature = "X-Shield-Signature"
	HeaderMessage   = "X-Shield-Message"
)

// Server routes HTTP requests to the engine.
type Server struct {
	eng       *engine.Engine
	collector *monitoring.Collector
	stream    http.Handler
	cfg       config.ServerConfig
	log       *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithCollector serves solvency snapshots at /v1/metrics.
func WithCollector(c *monitoring.Collector) Option {
	return func(s *Server) { s.collector = c }
}

// WithEventStream serves h at /v1/events/ws.
func WithEventStream(h http.Handler) Option {
	return func(s *Server) { s.stream = h }
}

// WithServerConfig sets CORS origins and the request rate limit.
func WithServerConfig(cfg config.ServerConfig) Option {
	return func(s *Server) { s.cfg = cfg }
}

// New creates a Server over eng.
func New(eng *engine.Engine, opts ...Option) *Server {
	s := &Server{
		eng: eng,
		log: zap.L().With(zap.String("component", "api")),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLog)
	r.Use(middleware.Recoverer)

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", HeaderIdentity, HeaderSignature, HeaderMessage},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))
	if s.cfg.RateLimit > 0 {
		burst := max(s.cfg.RateBurst, 1)
		r.Use(limit(rate.NewLimiter(rate.Limit(s.cfg.RateLimit), burst)))
	}

	r.Get("/health", s.health)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/program", s.getProgram)
		r.Patch("/program", s.updateProgram)
		r.Get("/pool", s.getPool)
		r.Post("/pool/deposit", s.deposit)
		r.Post("/pool/withdraw", s.withdraw)
		r.Post("/pool/metrics", s.updateMetrics)
		r.Get("/providers/{identity}", s.getProvider)
		r.Post("/maintenance/expire", s.expireDue)
		if s.collector != nil {
			r.Get("/metrics", s.metrics)
		}

		r.Route("/products", func(r chi.Router) {
			r.Get("/", s.listProducts)
			r.Post("/", s.createProduct)
			r.Get("/{id}", s.getProduct)
			r.Patch("/{id}", s.updateProduct)
			r.Post("/{id}/activate", s.setProductActive(true))
			r.Post("/{id}/deactivate", s.setProductActive(false))
		})

		r.Post("/quote", s.quote)
		r.Route("/policies", func(r chi.Router) {
			r.Get("/", s.listPolicies)
			r.Post("/", s.purchase)
			r.Get("/{id}", s.getPolicy)
			r.Post("/{id}/renew", s.renew)
			r.Post("/{id}/cancel", s.cancel)
			r.Get("/{id}/claims", s.listClaims)
			r.Post("/{id}/claims", s.submitClaim)
		})
		r.Route("/claims/{id}", func(r chi.Router) {
			r.Get("/", s.getClaim)
			r.Post("/votes", s.vote)
			r.Post("/arbitrate", s.arbitrate)
			r.Post("/dispute", s.dispute)
			r.Post("/pay", s.payClaim)
			r.Post("/expire", s.expireClaim)
		})

		r.Post("/simulate", s.simulate)
		r.Get("/events", s.listEvents)
		if s.stream != nil {
			r.Handle("/events/ws", s.stream)
		}
	})

	return r
}

func limit(l *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow() {
				writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "RateLimited", Message: "too many requests"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
