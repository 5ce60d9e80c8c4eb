package analytics

import (
	"time"

	"github.com/KNICEX/volume-agent/internal/service/chain"
	"github.com/prometheus/client_golang/prometheus"
)

// Exporter 进程级 prometheus 指标
//
//	volume_trades_total{strategy,direction,result}
//	volume_native_total{direction}
//	volume_fiat_total
//	volume_fees_total
//	volume_errors_total{kind}
//	volume_active_sessions
//	volume_cycle_seconds
type Exporter struct {
	trades   *prometheus.CounterVec
	native   *prometheus.CounterVec
	fiat     prometheus.Counter
	fees     prometheus.Counter
	errors   *prometheus.CounterVec
	sessions prometheus.Gauge
	cycle    prometheus.Histogram
}

func NewExporter(reg prometheus.Registerer) *Exporter {
	e := &Exporter{
		trades: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "volume_trades_total",
				Help: "Trade attempts by strategy, direction and result",
			},
			[]string{"strategy", "direction", "result"},
		),
		native: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "volume_native_total",
				Help: "Traded volume in native currency",
			},
			[]string{"direction"},
		),
		fiat: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "volume_fiat_total",
				Help: "Traded volume in fiat",
			},
		),
		fees: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "volume_fees_total",
				Help: "Fees charged in native currency",
			},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "volume_errors_total",
				Help: "Classified failures by kind",
			},
			[]string{"kind"},
		),
		sessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "volume_active_sessions",
				Help: "Sessions currently in active status",
			},
		),
		cycle: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "volume_cycle_seconds",
				Help:    "Wall time of one trading cycle",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
			},
		),
	}
	reg.MustRegister(e.trades, e.native, e.fiat, e.fees, e.errors, e.sessions, e.cycle)
	return e
}

func (e *Exporter) ObserveTrade(strategy string, ev TradeEvent) {
	result := "success"
	if !ev.Success {
		result = "failed"
	}
	e.trades.WithLabelValues(strategy, ev.Direction.ToString(), result).Inc()
	e.fees.Add(ev.Fee.InexactFloat64())
	if !ev.Success {
		return
	}
	e.native.WithLabelValues(ev.Direction.ToString()).Add(ev.NativeVolume.InexactFloat64())
	e.fiat.Add(ev.NativeVolume.Mul(ev.FiatPrice).InexactFloat64())
}

func (e *Exporter) ObserveError(kind chain.ErrorKind) {
	e.errors.WithLabelValues(string(kind)).Inc()
}

func (e *Exporter) ObserveCycle(d time.Duration) {
	e.cycle.Observe(d.Seconds())
}

func (e *Exporter) SetActiveSessions(n int) {
	e.sessions.Set(float64(n))
}
