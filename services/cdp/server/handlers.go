package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"aerocdp/crypto"
	"aerocdp/native/cdp"
	"aerocdp/services/cdp/journal"
)

func queryInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, badRequest(name + " must be a non-negative integer")
	}
	return v, nil
}

func queryUint(r *http.Request, name string) (uint64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, badRequest(name + " must be an unsigned integer")
	}
	return v, nil
}

func (s *Server) getParams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, paramsView(s.svc.Params()))
}

func (s *Server) getTotals(w http.ResponseWriter, r *http.Request) {
	totals, err := s.svc.Totals()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, totalsView(totals))
}

func (s *Server) listTroves(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ranked, err := s.svc.SortedTroves(r.Context(), r.URL.Query().Get("denom"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]TroveView, 0, len(ranked))
	for _, entry := range ranked {
		out = append(out, rankedView(entry))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getTrove(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress("owner", chi.URLParam(r, "owner"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	trove, err := s.svc.Trove(owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, troveView(trove))
}

func (s *Server) getICR(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress("owner", chi.URLParam(r, "owner"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	icr, err := s.svc.CurrentICR(r.Context(), owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, icrView{Owner: owner.String(), ICR: icr})
}

func (s *Server) getStake(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress("owner", chi.URLParam(r, "owner"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	position, err := s.svc.StakePosition(owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stakeView(position))
}

func (s *Server) getGain(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress("owner", chi.URLParam(r, "owner"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	denom := chi.URLParam(r, "denom")
	gain, err := s.svc.PendingGain(owner, denom)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountView{Denom: strings.ToLower(denom), Amount: gain})
}

func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress("owner", chi.URLParam(r, "owner"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	denom := strings.ToLower(chi.URLParam(r, "denom"))
	balance, err := s.svc.Balance(denom, owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountView{Denom: denom, Amount: balance})
}

func (s *Server) getRedemptionHints(w http.ResponseWriter, r *http.Request) {
	amount, err := queryUint(r, "amount")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	hints, err := s.svc.RedemptionHints(r.Context(), r.URL.Query().Get("denom"), amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"owners": addressStrings(hints)})
}

func (s *Server) getPrice(w http.ResponseWriter, r *http.Request) {
	price, err := s.svc.Feed().Price(r.Context(), chi.URLParam(r, "denom"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, priceView(price))
}

func (s *Server) getPriceHistory(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		http.Error(w, "journal disabled", http.StatusServiceUnavailable)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	records, err := s.journal.Prices(r.Context(), chi.URLParam(r, "denom"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]PriceView, 0, len(records))
	for _, record := range records {
		out = append(out, recordedPriceView(record))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		http.Error(w, "journal disabled", http.StatusServiceUnavailable)
		return
	}
	after, err := queryUint(r, "after")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	records, err := s.journal.Events(r.Context(), r.URL.Query().Get("type"), after, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]EventView, 0, len(records))
	for _, record := range records {
		view, err := journalView(record)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, out)
}

func journalView(record journal.EventRecord) (EventView, error) {
	view := EventView{
		ID:        record.ID,
		Type:      record.Type,
		CreatedAt: record.CreatedAt.UTC().Format(time.RFC3339),
	}
	if err := json.Unmarshal([]byte(record.Attributes), &view.Attributes); err != nil {
		return EventView{}, err
	}
	return view, nil
}

func (s *Server) openTrove(w http.ResponseWriter, r *http.Request) {
	var req openTroveRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	owner, err := s.actor(r, req.Owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	trove, err := s.svc.OpenTrove(r.Context(), owner, req.Denom, req.Collateral, req.Loan)
	s.respondTrove(w, r, http.StatusCreated, trove, err)
}

func (s *Server) addCollateral(w http.ResponseWriter, r *http.Request) {
	s.adjustTrove(w, r, func(req amountRequest, owner crypto.Address) (*cdp.Trove, error) {
		return s.svc.AddCollateral(r.Context(), owner, req.Denom, req.Amount)
	})
}

func (s *Server) removeCollateral(w http.ResponseWriter, r *http.Request) {
	s.adjustTrove(w, r, func(req amountRequest, owner crypto.Address) (*cdp.Trove, error) {
		return s.svc.RemoveCollateral(r.Context(), owner, req.Amount)
	})
}

func (s *Server) borrow(w http.ResponseWriter, r *http.Request) {
	s.adjustTrove(w, r, func(req amountRequest, owner crypto.Address) (*cdp.Trove, error) {
		return s.svc.Borrow(r.Context(), owner, req.Amount)
	})
}

func (s *Server) repay(w http.ResponseWriter, r *http.Request) {
	s.adjustTrove(w, r, func(req amountRequest, owner crypto.Address) (*cdp.Trove, error) {
		return s.svc.Repay(r.Context(), owner, req.Amount)
	})
}

func (s *Server) closeTrove(w http.ResponseWriter, r *http.Request) {
	var req ownerRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	owner, err := s.actor(r, req.Owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	trove, err := s.svc.CloseTrove(r.Context(), owner)
	s.respondTrove(w, r, http.StatusOK, trove, err)
}

func (s *Server) adjustTrove(w http.ResponseWriter, r *http.Request, fn func(amountRequest, crypto.Address) (*cdp.Trove, error)) {
	var req amountRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	owner, err := s.actor(r, req.Owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	trove, err := fn(req, owner)
	s.respondTrove(w, r, http.StatusOK, trove, err)
}

func (s *Server) respondTrove(w http.ResponseWriter, r *http.Request, status int, trove *cdp.Trove, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, status, troveView(trove))
}

func (s *Server) stake(w http.ResponseWriter, r *http.Request) {
	s.adjustDeposit(w, r, true)
}

func (s *Server) unstake(w http.ResponseWriter, r *http.Request) {
	s.adjustDeposit(w, r, false)
}

func (s *Server) adjustDeposit(w http.ResponseWriter, r *http.Request, stake bool) {
	var req amountRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	owner, err := s.actor(r, req.Owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var deposit *cdp.StabilityDeposit
	if stake {
		deposit, err = s.svc.Stake(r.Context(), owner, req.Amount)
	} else {
		deposit, err = s.svc.Unstake(r.Context(), owner, req.Amount)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, depositView(deposit))
}

func (s *Server) withdrawGains(w http.ResponseWriter, r *http.Request) {
	var req ownerRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	owner, err := s.actor(r, req.Owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	paid, err := s.svc.WithdrawGains(r.Context(), owner, req.Denom)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountView{Denom: strings.ToLower(strings.TrimSpace(req.Denom)), Amount: paid})
}

func (s *Server) liquidate(w http.ResponseWriter, r *http.Request) {
	var req ownerRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	report, err := s.svc.Liquidate(r.Context(), owner)
	s.respondLiquidation(w, r, report, err)
}

func (s *Server) liquidateBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	owners, err := parseAddresses("owners", req.Owners)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	report, err := s.svc.LiquidateBatch(r.Context(), req.Denom, owners)
	s.respondLiquidation(w, r, report, err)
}

func (s *Server) liquidateSorted(w http.ResponseWriter, r *http.Request) {
	var req ownerRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	report, err := s.svc.LiquidateSorted(r.Context(), req.Denom)
	s.respondLiquidation(w, r, report, err)
}

func (s *Server) respondLiquidation(w http.ResponseWriter, r *http.Request, report *cdp.LiquidationReport, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, liquidationView(report))
}

func (s *Server) redeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	redeemer, err := s.actor(r, req.Owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	owners, err := parseAddresses("owners", req.Owners)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(owners) == 0 {
		owners, err = s.svc.RedemptionHints(r.Context(), req.Denom, req.Amount)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	report, err := s.svc.Redeem(r.Context(), redeemer, req.Denom, req.Amount, owners)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, redemptionView(report))
}
