package server

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"aerocdp/gateway/middleware"
	"aerocdp/services/cdp/journal"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
	maxBodyBytes      = 1 << 20
)

// withIdempotency replays the stored response when a mutating request repeats
// an Idempotency-Key with the same method, path and body. Only successful
// responses are remembered so rejected requests can be retried.
func (s *Server) withIdempotency(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
		if key == "" || s.journal == nil {
			next.ServeHTTP(w, r)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			s.writeError(w, r, badRequest("read body: "+err.Error()))
			return
		}
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))

		digest := journal.Digest(r.Method, r.URL.Path, body)
		// Held across lookup and execution so a key runs at most once.
		s.idemMu.Lock()
		defer s.idemMu.Unlock()
		record, err := s.journal.Lookup(r.Context(), key, digest)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if record != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(replayedHeader, "true")
			w.WriteHeader(record.Status)
			_, _ = io.WriteString(w, record.Response)
			return
		}

		recorder := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		if recorder.status >= http.StatusBadRequest {
			return
		}
		err = s.journal.Remember(r.Context(), &journal.IdempotencyRecord{
			Key:       key,
			Digest:    digest,
			RequestID: middleware.RequestID(r.Context()),
			Method:    r.Method,
			Path:      r.URL.Path,
			Status:    recorder.status,
			Response:  recorder.buf.String(),
		})
		if err != nil {
			s.logger.Error("store idempotent response", "key", key, "error", err)
		}
	})
}

type responseRecorder struct {
	http.ResponseWriter
	buf    bytes.Buffer
	status int
}

func (rr *responseRecorder) WriteHeader(status int) {
	rr.status = status
	rr.ResponseWriter.WriteHeader(status)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	rr.buf.Write(b)
	return rr.ResponseWriter.Write(b)
}
