package metric

import (
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"lukechampine.com/uint128"

	"github.com/Legendarykuga/archVault/internal/core/domain"
	"github.com/Legendarykuga/archVault/internal/core/service"
	"github.com/Legendarykuga/archVault/internal/storage"
)

// Namespace prefixes every ArchVault metric.
const Namespace = "archvault"

var (
	_ service.Recorder = (*Registry)(nil)
	_ storage.Observer = (*Registry)(nil)
)

// Registry holds all application metrics.
type Registry struct {
	reg *prometheus.Registry

	// Ledger metrics
	DepositsTotal     *prometheus.CounterVec
	DepositedAmount   *prometheus.CounterVec
	WithdrawalsTotal  *prometheus.CounterVec
	WithdrawnDeposits *prometheus.CounterVec
	PenaltyAmount     prometheus.Counter

	// Storage metrics
	SavesTotal        *prometheus.CounterVec
	SaveFailures      *prometheus.CounterVec
	SaveDuration      *prometheus.HistogramVec
	PersistedUsers    prometheus.Gauge
	PersistedDeposits prometheus.Gauge
}

// NewRegistry creates the metrics and registers them with a fresh
// prometheus.Registry.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		DepositsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "ledger",
			Name:      "deposits_total",
			Help:      "Deposits created.",
		}, []string{"token"}),
		DepositedAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "ledger",
			Name:      "deposited_base_units_total",
			Help:      "Sum of deposited amounts in base units.",
		}, []string{"token"}),
		WithdrawalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "ledger",
			Name:      "withdrawals_total",
			Help:      "Withdrawal calls that consumed at least one deposit.",
		}, []string{"kind"}),
		WithdrawnDeposits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "ledger",
			Name:      "withdrawn_deposits_total",
			Help:      "Deposits marked withdrawn.",
		}, []string{"kind"}),
		PenaltyAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "ledger",
			Name:      "penalty_base_units_total",
			Help:      "Sum of emergency penalties in base units.",
		}),
		SavesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "storage",
			Name:      "saves_total",
			Help:      "Successful ledger saves.",
		}, []string{"backend"}),
		SaveFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "storage",
			Name:      "save_failures_total",
			Help:      "Failed ledger saves.",
		}, []string{"backend"}),
		SaveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "storage",
			Name:      "save_duration_seconds",
			Help:      "Time spent writing the ledger.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"backend"}),
		PersistedUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "storage",
			Name:      "persisted_users",
			Help:      "Users in the last loaded or saved ledger.",
		}),
		PersistedDeposits: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "storage",
			Name:      "persisted_deposits",
			Help:      "Deposits in the last loaded or saved ledger.",
		}),
	}

	r.reg.MustRegister(
		r.DepositsTotal,
		r.DepositedAmount,
		r.WithdrawalsTotal,
		r.WithdrawnDeposits,
		r.PenaltyAmount,
		r.SavesTotal,
		r.SaveFailures,
		r.SaveDuration,
		r.PersistedUsers,
		r.PersistedDeposits,
	)
	return r
}

// Registerer exposes the underlying registry for components that add
// their own metrics, such as the badger store.
func (r *Registry) Registerer() prometheus.Registerer { return r.reg }

// Gatherer exposes the underlying registry for scraping or dumping.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// ObserveDeposit implements service.Recorder.
func (r *Registry) ObserveDeposit(d *domain.Deposit) {
	tok := d.Token.String()
	r.DepositsTotal.WithLabelValues(tok).Inc()
	r.DepositedAmount.WithLabelValues(tok).Add(toFloat(d.Amount))
}

// ObserveWithdrawal implements service.Recorder.
func (r *Registry) ObserveWithdrawal(res *service.WithdrawalResult) {
	if res.Count == 0 {
		return
	}
	kind := string(res.Kind)
	r.WithdrawalsTotal.WithLabelValues(kind).Inc()
	r.WithdrawnDeposits.WithLabelValues(kind).Add(float64(res.Count))
	if res.Kind == service.KindEmergency {
		r.PenaltyAmount.Add(toFloat(res.Penalty))
	}
}

// ObserveSave implements storage.Observer.
func (r *Registry) ObserveSave(backend string, elapsed time.Duration, err error) {
	if err != nil {
		r.SaveFailures.WithLabelValues(backend).Inc()
		return
	}
	r.SavesTotal.WithLabelValues(backend).Inc()
	r.SaveDuration.WithLabelValues(backend).Observe(elapsed.Seconds())
}

// ObserveLedgerSize implements storage.Observer.
func (r *Registry) ObserveLedgerSize(users, deposits int) {
	r.PersistedUsers.Set(float64(users))
	r.PersistedDeposits.Set(float64(deposits))
}

// Dump renders every metric family in g in the Prometheus text format.
func Dump(g prometheus.Gatherer) (string, error) {
	families, err := g.Gather()
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	enc := expfmt.NewEncoder(&sb, expfmt.NewFormat(expfmt.TypeTextPlain))
	var errs []error
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			errs = append(errs, err)
		}
	}
	return sb.String(), errors.Join(errs...)
}

// Sum totals every sample of the counter or gauge family name in g.
// A family that has not been written yet sums to zero.
func Sum(g prometheus.Gatherer, name string) (float64, error) {
	families, err := g.Gather()
	if err != nil {
		return 0, err
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return sumFamily(mf), nil
		}
	}
	return 0, nil
}

func sumFamily(mf *dto.MetricFamily) float64 {
	var total float64
	for _, m := range mf.GetMetric() {
		switch mf.GetType() {
		case dto.MetricType_COUNTER:
			total += m.GetCounter().GetValue()
		case dto.MetricType_GAUGE:
			total += m.GetGauge().GetValue()
		}
	}
	return total
}

// toFloat converts a 128-bit amount; precision loss above 2^53 is
// acceptable for monitoring.
func toFloat(v uint128.Uint128) float64 {
	f, _ := new(big.Float).SetInt(v.Big()).Float64()
	return f
}
