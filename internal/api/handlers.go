package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/shield/internal/engine"
	"github.com/sells-group/shield/internal/model"
	"github.com/sells-group/shield/internal/risk"
)

type amountRequest struct {
	Amount uint64 `json:"amount"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "now": s.eng.Now()})
}

func (s *Server) getProgram(w http.ResponseWriter, r *http.Request) {
	prog, err := s.eng.GetProgram(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prog)
}

func (s *Server) updateProgram(w http.ResponseWriter, r *http.Request) {
	var req engine.ProgramUpdate
	if !decode(w, r, &req) {
		return
	}
	prog, err := s.eng.UpdateProgram(r.Context(), credential(r), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prog)
}

func (s *Server) getPool(w http.ResponseWriter, r *http.Request) {
	pool, err := s.eng.GetPool(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	snap, err := s.collector.Collect(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) updateMetrics(w http.ResponseWriter, r *http.Request) {
	pool, err := s.eng.UpdateMetrics(r.Context(), credential(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

func (s *Server) expireDue(w http.ResponseWriter, r *http.Request) {
	res, err := s.eng.ExpireDue(r.Context(), credential(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decode(w, r, &req) {
		return
	}
	cp, err := s.eng.Deposit(r.Context(), credential(r), req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decode(w, r, &req) {
		return
	}
	cp, err := s.eng.Withdraw(r.Context(), credential(r), req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

func (s *Server) getProvider(w http.ResponseWriter, r *http.Request) {
	cp, err := s.eng.GetProvider(r.Context(), chi.URLParam(r, "identity"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.eng.ListProducts(r.Context(), r.URL.Query().Get("active") == "true")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if products == nil {
		products = []model.Product{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (s *Server) createProduct(w http.ResponseWriter, r *http.Request) {
	var in model.ProductInput
	if !decode(w, r, &in) {
		return
	}
	p, err := s.eng.CreateProduct(r.Context(), credential(r), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := s.eng.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) updateProduct(w http.ResponseWriter, r *http.Request) {
	var u model.ProductUpdate
	if !decode(w, r, &u) {
		return
	}
	p, err := s.eng.UpdateProduct(r.Context(), credential(r), chi.URLParam(r, "id"), u)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) setProductActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := s.eng.SetProductActive(r.Context(), credential(r), chi.URLParam(r, "id"), active)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func (s *Server) quote(w http.ResponseWriter, r *http.Request) {
	var req engine.QuoteRequest
	if !decode(w, r, &req) {
		return
	}
	pricing, err := s.eng.Quote(r.Context(), credential(r), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pricing)
}

func (s *Server) simulate(w http.ResponseWriter, r *http.Request) {
	var in risk.SimulationInput
	if !decode(w, r, &in) {
		return
	}
	res, err := s.eng.Simulate(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	after, ok := queryUint(r, "after")
	if !ok {
		badRequest(w, "after must be a sequence number")
		return
	}
	limit, ok := queryUint(r, "limit")
	if !ok {
		badRequest(w, "limit must be a positive integer")
		return
	}
	evs, err := s.eng.Events(r.Context(), after, int(min(limit, 1<<31-1)))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if evs == nil {
		evs = []model.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": evs})
}
