package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"aerocdp/native/cdp"
	"aerocdp/native/oracle"
	"aerocdp/services/cdp/journal"
)

// errorBody is the JSON envelope returned for every failed request.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var kindStatus = map[cdp.Kind]int{
	cdp.KindUnauthorized:           http.StatusForbidden,
	cdp.KindInvalidAmount:          http.StatusBadRequest,
	cdp.KindInsufficientCollateral: http.StatusUnprocessableEntity,
	cdp.KindInsufficientFunds:      http.StatusUnprocessableEntity,
	cdp.KindOverflow:               http.StatusUnprocessableEntity,
	cdp.KindInvalidOrdering:        http.StatusConflict,
	cdp.KindNotLiquidatable:        http.StatusConflict,
	cdp.KindPriceInvalid:           http.StatusServiceUnavailable,
	cdp.KindPriceStale:             http.StatusServiceUnavailable,
	cdp.KindTroveNotFound:          http.StatusNotFound,
	cdp.KindTroveInactive:          http.StatusConflict,
	cdp.KindTroveExists:            http.StatusConflict,
	cdp.KindUnsupportedDenom:       http.StatusBadRequest,
	cdp.KindUninitializedDeposit:   http.StatusNotFound,
	cdp.KindPaused:                 http.StatusServiceUnavailable,
}

var errForbidden = &cdp.Error{Kind: cdp.KindUnauthorized, Detail: "token subject does not match owner"}

// errBadRequest marks request decoding failures.
type errBadRequest struct{ msg string }

func (e errBadRequest) Error() string { return e.msg }

func badRequest(msg string) error { return errBadRequest{msg: msg} }

func classify(err error) (int, string) {
	var bad errBadRequest
	switch {
	case errors.As(err, &bad):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, journal.ErrDigestMismatch):
		return http.StatusUnprocessableEntity, "idempotency_key_reused"
	case errors.Is(err, oracle.ErrInvalidPrice), errors.Is(err, oracle.ErrLowConfidence):
		return http.StatusBadRequest, "invalid_price"
	case errors.Is(err, oracle.ErrUnknownDenom):
		return http.StatusNotFound, "unknown_price"
	}
	kind := cdp.KindOf(err)
	if status, ok := kindStatus[kind]; ok {
		return status, kind.Code()
	}
	return http.StatusInternalServerError, "internal"
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		message = http.StatusText(status)
	} else {
		s.logger.Debug("request rejected", "path", r.URL.Path, "code", code, slog.String("error", err.Error()))
	}
	writeJSON(w, status, errorBody{Code: code, Message: message})
}
