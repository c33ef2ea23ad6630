// Package metrics registers the bot's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tradesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snipebot_trades_total",
			Help: "Terminal trade records by side and status",
		},
		[]string{"side", "status", "error_kind"},
	)

	tradeAttempts = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "snipebot_trade_attempts",
			Help:    "Submission attempts used per trade",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		},
		[]string{"side"},
	)

	tradeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "snipebot_trade_duration_seconds",
			Help:    "Wall time from pending record to terminal record",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"side"},
	)

	intakeOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snipebot_intake_outcomes_total",
			Help: "Candidate outcomes by decision and pipeline stage",
		},
		[]string{"decision", "stage"},
	)

	rugsAvoided = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "snipebot_rugs_avoided_total",
			Help: "Candidates rejected for rug or honeypot patterns",
		},
	)

	positionActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snipebot_position_actions_total",
			Help: "Exit actions executed by the monitor",
		},
		[]string{"kind"},
	)

	openPositions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "snipebot_open_positions",
			Help: "Open positions per account",
		},
		[]string{"account"},
	)

	dailyPnL = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "snipebot_daily_pnl",
			Help: "Realized profit and loss for the current trading day",
		},
	)

	consecutiveLosses = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "snipebot_consecutive_losses",
			Help: "Current losing streak",
		},
	)

	tradingPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "snipebot_trading_paused",
			Help: "1 when the risk ledger has halted new entries",
		},
	)

	monitorTick = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "snipebot_monitor_tick_seconds",
			Help:    "Duration of one monitor pass over open positions",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordTrade counts a terminal trade record.
func RecordTrade(side, status, errorKind string, attempts int, elapsed time.Duration) {
	tradesTotal.WithLabelValues(side, status, errorKind).Inc()
	tradeAttempts.WithLabelValues(side).Observe(float64(attempts))
	tradeDuration.WithLabelValues(side).Observe(elapsed.Seconds())
}

// RecordIntake counts a candidate outcome.
func RecordIntake(decision, stage string, rug bool) {
	intakeOutcomes.WithLabelValues(decision, stage).Inc()
	if rug {
		rugsAvoided.Inc()
	}
}

// RecordPositionAction counts an executed exit.
func RecordPositionAction(kind string) {
	positionActions.WithLabelValues(kind).Inc()
}

// SetOpenPositions reports the open position count of an account.
func SetOpenPositions(account string, n int) {
	openPositions.WithLabelValues(account).Set(float64(n))
}

// SetRisk reports the ledger's counters.
func SetRisk(pnl float64, streak int, paused bool) {
	dailyPnL.Set(pnl)
	consecutiveLosses.Set(float64(streak))
	if paused {
		tradingPaused.Set(1)
	} else {
		tradingPaused.Set(0)
	}
}

// ObserveMonitorTick records the duration of a monitor pass.
func ObserveMonitorTick(d time.Duration) {
	monitorTick.Observe(d.Seconds())
}
