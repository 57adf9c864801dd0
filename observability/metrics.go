package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "aerocdp"

type httpMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	httpMetricsOnce sync.Once
	httpRegistry    *httpMetrics

	cdpMetricsOnce sync.Once
	cdpRegistry    *CDPMetrics
)

// HTTP returns the lazily-initialised registry for API route activity.
func HTTP() *httpMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &httpMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "API requests segmented by route, method and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "errors_total",
				Help:      "API errors segmented by route, method and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Requests rejected by throttling policies.",
			}, []string{"route", "reason"}),
		}
		prometheus.MustRegister(
			httpRegistry.requests,
			httpRegistry.errors,
			httpRegistry.latency,
			httpRegistry.throttles,
		)
	})
	return httpRegistry
}

// Observe records one request. status is the HTTP status written to the client.
func (m *httpMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
		m.errors.WithLabelValues(route, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle counts a rejected request. Reasons should be stable strings
// such as "rate_limit".
func (m *httpMetrics) RecordThrottle(route, reason string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(route, reason).Inc()
}

// CDPMetrics tracks engine operations and protocol-wide balances.
type CDPMetrics struct {
	operations      *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	liquidations    *prometheus.CounterVec
	liquidatedDebt  *prometheus.CounterVec
	redemptions     *prometheus.CounterVec
	redeemedNet     *prometheus.CounterVec
	depletions      prometheus.Counter
	totalDebt       prometheus.Gauge
	totalStake      prometheus.Gauge
	epoch           prometheus.Gauge
	product         prometheus.Gauge
	collateralTotal *prometheus.GaugeVec
	collateralVault *prometheus.GaugeVec
}

// CDP returns the engine metrics registry.
func CDP() *CDPMetrics {
	cdpMetricsOnce.Do(func() {
		cdpRegistry = &CDPMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Engine operations segmented by operation and result kind.",
			}, []string{"operation", "result"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Latency of engine operations including commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "liquidated_troves_total",
				Help:      "Troves absorbed by the stability pool.",
			}, []string{"denom"}),
			liquidatedDebt: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "liquidated_debt_total",
				Help:      "Stable-token debt cancelled by liquidations, in whole tokens.",
			}, []string{"denom"}),
			redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "redemptions_total",
				Help:      "Completed redemptions.",
			}, []string{"denom"}),
			redeemedNet: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "redeemed_net_total",
				Help:      "Stable tokens burned by redemptions, in whole tokens.",
			}, []string{"denom"}),
			depletions: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stability",
				Name:      "depletions_total",
				Help:      "Liquidations that emptied the stability pool.",
			}),
			totalDebt: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "total_debt",
				Help:      "Outstanding stable-token debt in whole tokens.",
			}),
			totalStake: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "total_stake",
				Help:      "Stable tokens staked in the stability pool in whole tokens.",
			}),
			epoch: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "stability",
				Name:      "epoch",
				Help:      "Current stability pool epoch.",
			}),
			product: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "stability",
				Name:      "product_factor",
				Help:      "Stability pool P factor as a fraction of 1.",
			}),
			collateralTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "collateral_total",
				Help:      "Collateral held by the protocol segmented by denom.",
			}, []string{"denom"}),
			collateralVault: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "stability",
				Name:      "collateral_vault",
				Help:      "Seized collateral awaiting withdrawal by stakers.",
			}, []string{"denom"}),
		}
		prometheus.MustRegister(
			cdpRegistry.operations,
			cdpRegistry.latency,
			cdpRegistry.liquidations,
			cdpRegistry.liquidatedDebt,
			cdpRegistry.redemptions,
			cdpRegistry.redeemedNet,
			cdpRegistry.depletions,
			cdpRegistry.totalDebt,
			cdpRegistry.totalStake,
			cdpRegistry.epoch,
			cdpRegistry.product,
			cdpRegistry.collateralTotal,
			cdpRegistry.collateralVault,
		)
	})
	return cdpRegistry
}

// ObserveOperation records an engine call. result is "ok" or an error code.
func (m *CDPMetrics) ObserveOperation(operation, result string, duration time.Duration) {
	if m == nil {
		return
	}
	if result == "" {
		result = "ok"
	}
	m.operations.WithLabelValues(operation, result).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordLiquidations accounts for troves liquidated in one call.
func (m *CDPMetrics) RecordLiquidations(denom string, troves int, debt uint64) {
	if m == nil || troves == 0 {
		return
	}
	d := labelDenom(denom)
	m.liquidations.WithLabelValues(d).Add(float64(troves))
	m.liquidatedDebt.WithLabelValues(d).Add(tokens(debt))
}

// RecordRedemption accounts for one completed redemption.
func (m *CDPMetrics) RecordRedemption(denom string, net uint64) {
	if m == nil {
		return
	}
	d := labelDenom(denom)
	m.redemptions.WithLabelValues(d).Inc()
	m.redeemedNet.WithLabelValues(d).Add(tokens(net))
}

// RecordDepletion counts a stability pool depletion.
func (m *CDPMetrics) RecordDepletion() {
	if m == nil {
		return
	}
	m.depletions.Inc()
}

// SetLedger publishes the global ledger gauges. p is scaled by 1e18.
func (m *CDPMetrics) SetLedger(totalDebt, totalStake, epoch uint64, p *big.Int) {
	if m == nil {
		return
	}
	m.totalDebt.Set(tokens(totalDebt))
	m.totalStake.Set(tokens(totalStake))
	m.epoch.Set(float64(epoch))
	m.product.Set(bigToFloat(p) / 1e18)
}

// SetCollateral publishes the per-denom collateral gauges.
func (m *CDPMetrics) SetCollateral(denom string, total, vault uint64) {
	if m == nil {
		return
	}
	d := labelDenom(denom)
	m.collateralTotal.WithLabelValues(d).Set(float64(total))
	m.collateralVault.WithLabelValues(d).Set(float64(vault))
}

func labelDenom(denom string) string {
	normalized := strings.ToLower(strings.TrimSpace(denom))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// tokens converts 18-decimal stable units to whole tokens.
func tokens(amount uint64) float64 {
	return float64(amount) / 1e18
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact && math.IsInf(floatVal, 0) {
		return math.MaxFloat64
	}
	return floatVal
}
