package observability

import (
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// FlashLoanMetrics bundles the collectors tracking flash loan activity and
// batch execution health.
type FlashLoanMetrics struct {
	batches      *prometheus.CounterVec
	batchLatency prometheus.Histogram
	loansBegun   prometheus.Counter
	loansSettled prometheus.Counter
	feesAccrued  prometheus.Counter
}

var (
	flashLoanOnce sync.Once
	flashLoanReg  *FlashLoanMetrics
)

// FlashLoan returns the lazily-initialised metrics registry for the flash
// loan processor.
func FlashLoan() *FlashLoanMetrics {
	flashLoanOnce.Do(func() {
		flashLoanReg = &FlashLoanMetrics{
			batches: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "marginledger",
				Subsystem: "processor",
				Name:      "batches_total",
				Help:      "Count of executed batches segmented by outcome.",
			}, []string{"outcome"}),
			batchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "marginledger",
				Subsystem: "processor",
				Name:      "batch_duration_seconds",
				Help:      "Latency distribution for batch execution.",
				Buckets:   prometheus.DefBuckets,
			}),
			loansBegun: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "marginledger",
				Subsystem: "flashloan",
				Name:      "loans_begun_total",
				Help:      "Count of flash loans funded at batch open.",
			}),
			loansSettled: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "marginledger",
				Subsystem: "flashloan",
				Name:      "loans_settled_total",
				Help:      "Count of flash loans settled at batch close.",
			}),
			feesAccrued: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "marginledger",
				Subsystem: "flashloan",
				Name:      "fees_accrued_native_total",
				Help:      "Total origination fees accrued, in native token units.",
			}),
		}
		prometheus.MustRegister(
			flashLoanReg.batches,
			flashLoanReg.batchLatency,
			flashLoanReg.loansBegun,
			flashLoanReg.loansSettled,
			flashLoanReg.feesAccrued,
		)
	})
	return flashLoanReg
}

// ObserveBatch records the outcome and duration of one batch execution.
func (m *FlashLoanMetrics) ObserveBatch(duration time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "committed"
	if err != nil {
		outcome = "aborted"
	}
	m.batches.WithLabelValues(outcome).Inc()
	m.batchLatency.Observe(duration.Seconds())
}

// RecordLoanBegun counts one funded loan.
func (m *FlashLoanMetrics) RecordLoanBegun() {
	if m == nil {
		return
	}
	m.loansBegun.Inc()
}

// RecordLoanSettled counts one settled loan together with the fee it accrued.
func (m *FlashLoanMetrics) RecordLoanSettled(fee *big.Int) {
	if m == nil {
		return
	}
	m.loansSettled.Inc()
	if fee != nil && fee.Sign() > 0 {
		m.feesAccrued.Add(bigToFloat(fee))
	}
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
