package metrics

import (
	"strconv"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once
	collectors   []prometheus.Collector
)

// register queues a collector at package init; nothing reaches the default
// registry until the composition root opts in.
func register(cs ...prometheus.Collector) {
	collectors = append(collectors, cs...)
}

// MustRegister installs every queued collector, exactly once, before the
// admin server starts serving /metrics.
func MustRegister() {
	registerOnce.Do(func() {
		if len(collectors) > 0 {
			prometheus.MustRegister(collectors...)
		}
	})
}

var (
	chatTurns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copilot_chat_turns_total",
			Help: "Completed chat turns per surface and outcome (ok/error).",
		},
		[]string{"surface", "outcome"},
	)

	agentCallLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "copilot_agent_call_latency_ms",
			Help:    "Agent backend call latency distribution in milliseconds.",
			Buckets: []float64{10, 25, 50, 100, 200, 400, 800, 1600, 3000, 5000, 10000},
		},
		[]string{"endpoint", "success"},
	)

	historyTokens = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "copilot_history_prompt_tokens",
			Help: "Estimated token count of the trailing history window last sent.",
		},
	)
)

func init() { register(chatTurns, agentCallLatencyMs, historyTokens) }

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func IncChatTurn(surface, outcome string) {
	chatTurns.WithLabelValues(norm(surface), norm(outcome)).Inc()
}

func ObserveAgentCall(endpoint string, latencyMs int, success bool) {
	agentCallLatencyMs.WithLabelValues(norm(endpoint), strconv.FormatBool(success)).
		Observe(float64(latencyMs))
}

func SetHistoryTokens(n int) { historyTokens.Set(float64(n)) }
