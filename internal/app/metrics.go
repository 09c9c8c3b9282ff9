package app

import (
	"botwatch/internal/connectivity"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	allChannels = []connectivity.Channel{
		connectivity.ChannelUnknown,
		connectivity.ChannelPush,
		connectivity.ChannelPoll,
	}
	allPhases = []connectivity.Phase{
		connectivity.PhaseInit,
		connectivity.PhasePushActive,
		connectivity.PhasePollActive,
		connectivity.PhaseDegraded,
	}
)

// stateSource is the part of the coordinator the collector reads.
type stateSource interface {
	State() connectivity.State
	Stats() connectivity.Stats
}

// connectivityCollector reads coordinator state on every scrape.
type connectivityCollector struct {
	src stateSource

	connected        *prometheus.Desc
	channel          *prometheus.Desc
	phase            *prometheus.Desc
	retryCount       *prometheus.Desc
	maxRetries       *prometheus.Desc
	lastSuccess      *prometheus.Desc
	checks           *prometheus.Desc
	failures         *prometheus.Desc
	skippedTicks     *prometheus.Desc
	staleResponses   *prometheus.Desc
	retriesScheduled *prometheus.Desc
	pushMessages     *prometheus.Desc
}

func newConnectivityCollector(src stateSource) *connectivityCollector {
	return &connectivityCollector{
		src: src,
		connected: prometheus.NewDesc("botwatch_connected",
			"1 when the backend is considered reachable.", nil, nil),
		channel: prometheus.NewDesc("botwatch_channel",
			"1 for the data-acquisition channel in use.", []string{"channel"}, nil),
		phase: prometheus.NewDesc("botwatch_phase",
			"1 for the current coordinator phase.", []string{"phase"}, nil),
		retryCount: prometheus.NewDesc("botwatch_retry_count",
			"Consecutive failed status checks.", nil, nil),
		maxRetries: prometheus.NewDesc("botwatch_max_retries",
			"Failures allowed before automatic retry stops.", nil, nil),
		lastSuccess: prometheus.NewDesc("botwatch_last_success_timestamp_seconds",
			"Unix time of the last successful contact, 0 if never.", nil, nil),
		checks: prometheus.NewDesc("botwatch_checks_total",
			"Status checks performed.", nil, nil),
		failures: prometheus.NewDesc("botwatch_check_failures_total",
			"Status checks that failed.", nil, nil),
		skippedTicks: prometheus.NewDesc("botwatch_skipped_ticks_total",
			"Poll ticks skipped because a request was in flight.", nil, nil),
		staleResponses: prometheus.NewDesc("botwatch_stale_responses_total",
			"Responses discarded because newer information had been applied.", nil, nil),
		retriesScheduled: prometheus.NewDesc("botwatch_retries_scheduled_total",
			"Automatic retries scheduled after a failure.", nil, nil),
		pushMessages: prometheus.NewDesc("botwatch_push_messages_total",
			"Payloads received over the push channel.", nil, nil),
	}
}

func (c *connectivityCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connected
	ch <- c.channel
	ch <- c.phase
	ch <- c.retryCount
	ch <- c.maxRetries
	ch <- c.lastSuccess
	ch <- c.checks
	ch <- c.failures
	ch <- c.skippedTicks
	ch <- c.staleResponses
	ch <- c.retriesScheduled
	ch <- c.pushMessages
}

func (c *connectivityCollector) Collect(ch chan<- prometheus.Metric) {
	state := c.src.State()
	stats := c.src.Stats()

	ch <- prometheus.MustNewConstMetric(c.connected, prometheus.GaugeValue, boolValue(state.IsConnected))
	for _, channel := range allChannels {
		ch <- prometheus.MustNewConstMetric(c.channel, prometheus.GaugeValue,
			boolValue(state.Channel == channel), channel.String())
	}
	for _, phase := range allPhases {
		ch <- prometheus.MustNewConstMetric(c.phase, prometheus.GaugeValue,
			boolValue(state.Phase == phase), phase.String())
	}
	ch <- prometheus.MustNewConstMetric(c.retryCount, prometheus.GaugeValue, float64(state.RetryCount))
	ch <- prometheus.MustNewConstMetric(c.maxRetries, prometheus.GaugeValue, float64(state.MaxRetries))

	var last float64
	if !state.LastSuccessAt.IsZero() {
		last = float64(state.LastSuccessAt.UnixNano()) / 1e9
	}
	ch <- prometheus.MustNewConstMetric(c.lastSuccess, prometheus.GaugeValue, last)

	ch <- prometheus.MustNewConstMetric(c.checks, prometheus.CounterValue, float64(stats.Checks))
	ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(stats.Failures))
	ch <- prometheus.MustNewConstMetric(c.skippedTicks, prometheus.CounterValue, float64(stats.SkippedTicks))
	ch <- prometheus.MustNewConstMetric(c.staleResponses, prometheus.CounterValue, float64(stats.StaleDiscarded))
	ch <- prometheus.MustNewConstMetric(c.retriesScheduled, prometheus.CounterValue, float64(stats.RetriesScheduled))
	ch <- prometheus.MustNewConstMetric(c.pushMessages, prometheus.CounterValue, float64(stats.PushMessages))
}

// newMetricsRegistry returns a private registry holding only the connectivity
// collector.
func newMetricsRegistry(src stateSource) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(newConnectivityCollector(src))
	return reg
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
