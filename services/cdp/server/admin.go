package server

import (
	"net/http"
	"strings"
)

func (s *Server) credit(w http.ResponseWriter, r *http.Request) {
	var req creditRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	denom := strings.ToLower(strings.TrimSpace(req.Denom))
	if err := s.svc.Credit(r.Context(), denom, to, req.Amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	balance, err := s.svc.Balance(denom, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountView{Denom: denom, Amount: balance})
}

func (s *Server) setPrice(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.SetPrice(r.Context(), req.priceData()); err != nil {
		s.writeError(w, r, err)
		return
	}
	price, err := s.svc.Feed().Price(r.Context(), req.Denom)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, priceView(price))
}

func (s *Server) updateParams(w http.ResponseWriter, r *http.Request) {
	var req ParamsView
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.UpdateParams(r.Context(), req.params()); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, paramsView(s.svc.Params()))
}

func (s *Server) listPauses(w http.ResponseWriter, r *http.Request) {
	paused := s.svc.Pauses().List()
	if paused == nil {
		paused = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"paused": paused})
}

func (s *Server) setPause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name != "cdp" && !strings.HasPrefix(name, "cdp.") {
		s.writeError(w, r, badRequest("pause name must be cdp or cdp.<action>"))
		return
	}
	s.svc.SetPaused(name, req.Paused)
	s.listPauses(w, r)
}
