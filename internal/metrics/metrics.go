// Package metrics exposes prometheus instrumentation for the engine.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tombee/cascade/pkg/llm"
	"github.com/tombee/cascade/pkg/pipeline"
)

var (
	executionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_executions_total",
			Help: "Total workflow executions by terminal status",
		},
		[]string{"status"},
	)

	executionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cascade_execution_duration_seconds",
			Help:    "End-to-end workflow execution duration",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"status"},
	)

	stepAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_step_attempts_total",
			Help: "Total step attempts by model and outcome",
		},
		[]string{"model", "success"},
	)

	attemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cascade_step_attempt_duration_seconds",
			Help:    "Model call duration per step attempt",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	tokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_tokens_total",
			Help: "Total tokens consumed by model and direction",
		},
		[]string{"model", "direction"},
	)

	costTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_cost_usd_total",
			Help: "Total model spend in USD by model",
		},
		[]string{"model"},
	)
)

// Engine is the prometheus-backed pipeline.Metrics implementation.
type Engine struct{}

var _ pipeline.Metrics = Engine{}

// NewEngine returns the metrics sink wired to the default registry.
func NewEngine() Engine {
	return Engine{}
}

func (Engine) ObserveAttempt(model string, success bool, duration time.Duration) {
	stepAttempts.WithLabelValues(model, strconv.FormatBool(success)).Inc()
	attemptDuration.WithLabelValues(model).Observe(duration.Seconds())
}

func (Engine) ObserveUsage(model string, usage llm.TokenUsage, costUSD float64) {
	tokensTotal.WithLabelValues(model, "prompt").Add(float64(usage.PromptTokens))
	tokensTotal.WithLabelValues(model, "completion").Add(float64(usage.CompletionTokens))
	costTotal.WithLabelValues(model).Add(costUSD)
}

func (Engine) ObserveExecution(status pipeline.ExecutionStatus, duration time.Duration) {
	executionsTotal.WithLabelValues(string(status)).Inc()
	executionDuration.WithLabelValues(string(status)).Observe(duration.Seconds())
}
