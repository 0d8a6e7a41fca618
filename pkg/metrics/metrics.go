package metrics

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/holiman/uint256"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/luxfi/thetavault/pkg/fault"
	"github.com/luxfi/thetavault/pkg/vault"
)

// VaultMetrics exports vault state and operation outcomes to Prometheus.
// It is a vault.Observer.
type VaultMetrics struct {
	namespace string
	registry  *prometheus.Registry
	logger    log.Logger

	// Round accounting
	round                prometheus.Gauge
	pricePerShare        prometheus.Gauge
	lockedAmount         prometheus.Gauge
	totalPending         prometheus.Gauge
	totalBalance         prometheus.Gauge
	queuedWithdrawShares prometheus.Gauge
	queuedWithdrawAmount prometheus.Gauge

	// Operations
	operations *prometheus.CounterVec
	reverts    *prometheus.CounterVec
	keeper     *prometheus.CounterVec

	// Transport
	natsPublished prometheus.Counter
	natsFailed    prometheus.Counter
	wsClients     prometheus.Gauge

	// System
	memoryUsage prometheus.Gauge
	goroutines  prometheus.Gauge
}

func NewVaultMetrics(namespace string, logger log.Logger) *VaultMetrics {
	if logger == nil {
		logger = log.Root().New("module", "metrics")
	}
	registry := prometheus.NewRegistry()
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	}

	m := &VaultMetrics{
		namespace: namespace,
		registry:  registry,
		logger:    logger,

		round:                gauge("round", "Current vault round"),
		pricePerShare:        gauge("price_per_share", "Price per share of the last closed round, in asset units"),
		lockedAmount:         gauge("locked_amount", "Collateral locked in the live option, in asset units"),
		totalPending:         gauge("total_pending", "Deposits waiting for the next roll, in asset units"),
		totalBalance:         gauge("total_balance", "Total vault balance, in asset units"),
		queuedWithdrawShares: gauge("queued_withdraw_shares", "Shares queued for withdrawal"),
		queuedWithdrawAmount: gauge("queued_withdraw_amount", "Asset reserved for completed-round withdrawals"),

		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Committed vault operations",
		}, []string{"op"}),
		reverts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reverts_total",
			Help:      "Reverted vault operations by error kind",
		}, []string{"op", "kind"}),
		keeper: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keeper_actions_total",
			Help:      "Keeper actions by outcome",
		}, []string{"action", "result"}),

		natsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nats_messages_published_total",
			Help:      "Events published to NATS",
		}),
		natsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nats_publish_failures_total",
			Help:      "Events that failed to publish to NATS",
		}),
		wsClients: gauge("websocket_clients", "Connected websocket clients"),

		memoryUsage: gauge("memory_usage_bytes", "Current memory usage in bytes"),
		goroutines:  gauge("goroutines_count", "Current number of goroutines"),
	}

	registry.MustRegister(
		m.round,
		m.pricePerShare,
		m.lockedAmount,
		m.totalPending,
		m.totalBalance,
		m.queuedWithdrawShares,
		m.queuedWithdrawAmount,
		m.operations,
		m.reverts,
		m.keeper,
		m.natsPublished,
		m.natsFailed,
		m.wsClients,
		m.memoryUsage,
		m.goroutines,
	)
	return m
}

// Registry exposes the private registry, mostly for tests.
func (m *VaultMetrics) Registry() *prometheus.Registry { return m.registry }

func (m *VaultMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on addr until the returned server is shut
// down.
func (m *VaultMetrics) StartServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	m.logger.Info("Starting Prometheus metrics server", "addr", addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("Metrics server failed", "error", err)
		}
	}()
	return srv
}

// ObserveCommit refreshes the state gauges after a committed operation.
func (m *VaultMetrics) ObserveCommit(op string, s vault.Stats) {
	m.operations.WithLabelValues(op).Inc()
	m.round.Set(float64(s.State.Round))

	dec := s.Decimals
	m.lockedAmount.Set(Units(s.State.LockedAmount, dec))
	m.totalPending.Set(Units(s.State.TotalPending, dec))
	m.totalBalance.Set(Units(s.TotalBalance, dec))
	m.queuedWithdrawShares.Set(Units(s.State.QueuedWithdrawShares, dec))
	m.queuedWithdrawAmount.Set(Units(s.State.CurrentQueuedWithdrawAmount, dec))
	if s.PricePerShare != nil {
		m.pricePerShare.Set(Units(s.PricePerShare, dec))
	}
}

func (m *VaultMetrics) ObserveRevert(op string, kind fault.Kind) {
	m.reverts.WithLabelValues(op, kind.String()).Inc()
}

// RecordKeeperAction counts one keeper action and its result ("ok",
// "retry" or "error").
func (m *VaultMetrics) RecordKeeperAction(action, result string) {
	m.keeper.WithLabelValues(action, result).Inc()
}

// RecordNATSMessage records the outcome of one publish.
func (m *VaultMetrics) RecordNATSMessage(ok bool) {
	if ok {
		m.natsPublished.Inc()
		return
	}
	m.natsFailed.Inc()
}

func (m *VaultMetrics) SetWebsocketClients(n int) {
	m.wsClients.Set(float64(n))
}

// CollectSystemMetrics samples runtime stats until ctx is done.
func (m *VaultMetrics) CollectSystemMetrics(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sampleRuntime()
		}
	}
}

func (m *VaultMetrics) sampleRuntime() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	m.memoryUsage.Set(float64(memStats.Alloc))
	m.goroutines.Set(float64(runtime.NumGoroutine()))
}

// Units converts a fixed point amount into whole units.
func Units(amount *uint256.Int, decimals uint8) float64 {
	if amount == nil {
		return 0
	}
	return decimal.NewFromBigInt(amount.ToBig(), -int32(decimals)).InexactFloat64()
}
