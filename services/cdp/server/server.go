package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aerocdp/crypto"
	"aerocdp/gateway/middleware"
	"aerocdp/services/cdp/engine"
	"aerocdp/services/cdp/journal"
)

// Config captures the dependencies required to construct the server.
type Config struct {
	Service       *engine.Service
	Journal       *journal.Journal
	Hub           *Hub
	Auth          *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	Logger        *slog.Logger
}

// Server exposes the CDP engine over HTTP.
type Server struct {
	svc     *engine.Service
	journal *journal.Journal
	hub     *Hub
	auth    *middleware.Authenticator
	limiter *middleware.RateLimiter
	obs     *middleware.Observability
	logger  *slog.Logger
	idemMu  sync.Mutex
	router  http.Handler
}

// New constructs the router. Service is required; the journal, hub and
// middleware are optional.
func New(cfg Config) (*Server, error) {
	if cfg.Service == nil {
		return nil, errors.New("cdp server: service required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	auth := cfg.Auth
	if auth == nil {
		auth = middleware.NewAuthenticator(middleware.AuthConfig{}, logger)
	}
	limiter := cfg.RateLimiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(nil, logger)
	}
	obs := cfg.Observability
	if obs == nil {
		obs = middleware.NewObservability("cdpd", false, logger)
	}
	srv := &Server{
		svc:     cfg.Service,
		journal: cfg.Journal,
		hub:     cfg.Hub,
		auth:    auth,
		limiter: limiter,
		obs:     obs,
		logger:  logger,
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Group(func(read chi.Router) {
			read.Use(s.limiter.Middleware("read"))
			read.With(s.obs.Middleware("params")).Get("/params", s.getParams)
			read.With(s.obs.Middleware("totals")).Get("/totals", s.getTotals)
			read.With(s.obs.Middleware("troves.sorted")).Get("/troves", s.listTroves)
			read.With(s.obs.Middleware("troves.get")).Get("/troves/{owner}", s.getTrove)
			read.With(s.obs.Middleware("troves.icr")).Get("/troves/{owner}/icr", s.getICR)
			read.With(s.obs.Middleware("stability.get")).Get("/stability/{owner}", s.getStake)
			read.With(s.obs.Middleware("stability.gain")).Get("/stability/{owner}/gains/{denom}", s.getGain)
			read.With(s.obs.Middleware("balances")).Get("/balances/{owner}/{denom}", s.getBalance)
			read.With(s.obs.Middleware("redemptions.hints")).Get("/redemptions/hints", s.getRedemptionHints)
			read.With(s.obs.Middleware("prices.get")).Get("/prices/{denom}", s.getPrice)
			read.With(s.obs.Middleware("prices.history")).Get("/prices/{denom}/history", s.getPriceHistory)
			read.With(s.obs.Middleware("events")).Get("/events", s.listEvents)
			read.Get("/stream", s.handleStream)
		})

		api.Group(func(write chi.Router) {
			write.Use(s.auth.Middleware(middleware.ScopeWrite))
			write.Use(s.limiter.Middleware("write"))
			write.Use(s.withIdempotency)
			write.With(s.obs.Middleware("troves.open")).Post("/troves/open", s.openTrove)
			write.With(s.obs.Middleware("troves.add_collateral")).Post("/troves/collateral/add", s.addCollateral)
			write.With(s.obs.Middleware("troves.remove_collateral")).Post("/troves/collateral/remove", s.removeCollateral)
			write.With(s.obs.Middleware("troves.borrow")).Post("/troves/borrow", s.borrow)
			write.With(s.obs.Middleware("troves.repay")).Post("/troves/repay", s.repay)
			write.With(s.obs.Middleware("troves.close")).Post("/troves/close", s.closeTrove)
			write.With(s.obs.Middleware("stability.stake")).Post("/stability/stake", s.stake)
			write.With(s.obs.Middleware("stability.unstake")).Post("/stability/unstake", s.unstake)
			write.With(s.obs.Middleware("stability.withdraw")).Post("/stability/withdraw", s.withdrawGains)
			write.With(s.obs.Middleware("liquidations.single")).Post("/liquidations", s.liquidate)
			write.With(s.obs.Middleware("liquidations.batch")).Post("/liquidations/batch", s.liquidateBatch)
			write.With(s.obs.Middleware("liquidations.sorted")).Post("/liquidations/sorted", s.liquidateSorted)
			write.With(s.obs.Middleware("redemptions")).Post("/redemptions", s.redeem)
		})

		api.Route("/admin", func(admin chi.Router) {
			admin.Use(s.auth.Middleware(middleware.ScopeAdmin))
			admin.Use(s.limiter.Middleware("admin"))
			admin.With(s.obs.Middleware("admin.credit")).Post("/credit", s.credit)
			admin.With(s.obs.Middleware("admin.prices")).Post("/prices", s.setPrice)
			admin.With(s.obs.Middleware("admin.params")).Put("/params", s.updateParams)
			admin.With(s.obs.Middleware("admin.pauses")).Get("/pauses", s.listPauses)
			admin.With(s.obs.Middleware("admin.pauses")).Post("/pauses", s.setPause)
		})
	})
	return r
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return badRequest("invalid request body: " + err.Error())
	}
	return nil
}

func parseAddress(field, raw string) (crypto.Address, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return crypto.Address{}, badRequest(field + " required")
	}
	addr, err := crypto.DecodeAddress(raw)
	if err != nil {
		return crypto.Address{}, badRequest(field + ": " + err.Error())
	}
	return addr, nil
}

func parseAddresses(field string, raw []string) ([]crypto.Address, error) {
	out := make([]crypto.Address, 0, len(raw))
	for _, entry := range raw {
		addr, err := parseAddress(field, entry)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

// actor resolves the account a mutating request acts for. With auth enabled
// the token subject must match unless the caller holds the admin scope.
func (s *Server) actor(r *http.Request, raw string) (crypto.Address, error) {
	owner, err := parseAddress("owner", raw)
	if err != nil {
		return crypto.Address{}, err
	}
	if !s.auth.Enabled() || middleware.HasScope(r.Context(), middleware.ScopeAdmin) {
		return owner, nil
	}
	if middleware.Subject(r.Context()) != owner.String() {
		return crypto.Address{}, errForbidden
	}
	return owner, nil
}
