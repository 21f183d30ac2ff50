package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/shield/internal/model"
)

type renewRequest struct {
	PeriodDays uint64 `json:"period_days"`
}

type verdictRequest struct {
	Approve bool   `json:"approve"`
	Reason  string `json:"reason"`
}

type disputeRequest struct {
	Reason   string   `json:"reason"`
	Evidence []string `json:"evidence"`
}

func (s *Server) listPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := s.eng.ListPolicies(r.Context(), r.URL.Query().Get("owner"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if policies == nil {
		policies = []model.Policy{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"policies": policies})
}

func (s *Server) purchase(w http.ResponseWriter, r *http.Request) {
	var req model.PurchaseRequest
	if !decode(w, r, &req) {
		return
	}
	pol, err := s.eng.Purchase(r.Context(), credential(r), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pol)
}

func (s *Server) getPolicy(w http.ResponseWriter, r *http.Request) {
	pol, err := s.eng.GetPolicy(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pol)
}

func (s *Server) renew(w http.ResponseWriter, r *http.Request) {
	var req renewRequest
	if !decode(w, r, &req) {
		return
	}
	pol, err := s.eng.Renew(r.Context(), credential(r), chi.URLParam(r, "id"), req.PeriodDays)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pol)
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	res, err := s.eng.Cancel(r.Context(), credential(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) listClaims(w http.ResponseWriter, r *http.Request) {
	claims, err := s.eng.ListClaims(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if claims == nil {
		claims = []model.Claim{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"claims": claims})
}

func (s *Server) submitClaim(w http.ResponseWriter, r *http.Request) {
	var req model.ClaimRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := s.eng.SubmitClaim(r.Context(), credential(r), chi.URLParam(r, "id"), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) getClaim(w http.ResponseWriter, r *http.Request) {
	c, err := s.eng.GetClaim(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) vote(w http.ResponseWriter, r *http.Request) {
	var req verdictRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := s.eng.Vote(r.Context(), credential(r), chi.URLParam(r, "id"), req.Approve, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) arbitrate(w http.ResponseWriter, r *http.Request) {
	var req verdictRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := s.eng.Arbitrate(r.Context(), credential(r), chi.URLParam(r, "id"), req.Approve, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) dispute(w http.ResponseWriter, r *http.Request) {
	var req disputeRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := s.eng.Dispute(r.Context(), credential(r), chi.URLParam(r, "id"), req.Reason, req.Evidence)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) payClaim(w http.ResponseWriter, r *http.Request) {
	c, err := s.eng.PayClaim(r.Context(), credential(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) expireClaim(w http.ResponseWriter, r *http.Request) {
	c, err := s.eng.ExpireClaim(r.Context(), credential(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
