package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	SendsTotal        prometheus.Counter
	InferenceFailures prometheus.Counter
	HistorySaves      prometheus.Counter
	HistorySaveErrors prometheus.Counter
	StaleDropped      prometheus.Counter
	AudioPlays        prometheus.Counter
	UpdatesTotal      prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			SendsTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "agrobot",
				Name:      "chat_sends_total",
				Help:      "Total user turns submitted to the inference backend",
			}),
			InferenceFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "agrobot",
				Name:      "inference_failures_total",
				Help:      "Total inference calls that failed at the transport level",
			}),
			HistorySaves: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "agrobot",
				Name:      "history_saves_total",
				Help:      "Total chat history snapshots persisted",
			}),
			HistorySaveErrors: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "agrobot",
				Name:      "history_save_errors_total",
				Help:      "Total chat history persistence failures (swallowed)",
			}),
			StaleDropped: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "agrobot",
				Name:      "stale_responses_dropped_total",
				Help:      "Total inference responses discarded because the session changed mid-flight",
			}),
			AudioPlays: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "agrobot",
				Name:      "audio_plays_total",
				Help:      "Total audio tracks started by the playback service",
			}),
			UpdatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "agrobot",
				Name:      "telegram_updates_total",
				Help:      "Total telegram updates received",
			}),
		}
		prometheus.MustRegister(
			global.SendsTotal,
			global.InferenceFailures,
			global.HistorySaves,
			global.HistorySaveErrors,
			global.StaleDropped,
			global.AudioPlays,
			global.UpdatesTotal,
		)
	})
	return global
}
