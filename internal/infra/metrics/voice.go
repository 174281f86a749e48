package metrics

import "github.com/prometheus/client_golang/prometheus"

var voiceSessions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "copilot_voice_sessions_total",
		Help: "Voice capture sessions by result (completed/failed/rejected).",
	},
	[]string{"result"},
)

func init() { register(voiceSessions) }

func IncVoiceSession(result string) {
	voiceSessions.WithLabelValues(norm(result)).Inc()
}
