// Package meter provides coarse throughput accounting for a consumer
// instance: a fixed-period reporting window plus monotonic counters exported
// for scraping.
package meter

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Monitor counts forwarded messages and reports an integer messages-per-
// second rate once per period. Reporting is evaluated only at forwarding
// events: if no messages arrive, no report is emitted, including at the
// window boundary.
//
// Monitor is not safe for concurrent use; the run loop is its sole owner.
type Monitor struct {
	period      time.Duration
	windowStart time.Time
	count       int
	logger      zerolog.Logger

	forwardedTotal prometheus.Counter
	skippedTotal   prometheus.Counter
	decodeFailures prometheus.Counter
	appendFailures prometheus.Counter
}

// NewMonitor creates a Monitor whose first window opens at start. The
// counters are registered with reg when it is non-nil.
func NewMonitor(period time.Duration, start time.Time, reg prometheus.Registerer, logger zerolog.Logger) *Monitor {
	m := &Monitor{
		period:      period,
		windowStart: start,
		logger:      logger.With().Str("component", "ThroughputMonitor").Logger(),
		forwardedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_messages_forwarded_total",
			Help: "Messages successfully appended to the durable stream.",
		}),
		skippedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_messages_skipped_total",
			Help: "Messages skipped because their identifier was already forwarded.",
		}),
		decodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_decode_failures_total",
			Help: "Frames dropped because their payload could not be decoded.",
		}),
		appendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_append_failures_total",
			Help: "Stream appends that failed; the message stays eligible for retry on re-observation.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.forwardedTotal, m.skippedTotal, m.decodeFailures, m.appendFailures)
	}
	return m
}

// Forwarded records one successfully forwarded message in the current window.
func (m *Monitor) Forwarded() {
	m.count++
	m.forwardedTotal.Inc()
}

// Skipped records a duplicate identifier that was not forwarded.
func (m *Monitor) Skipped() {
	m.skippedTotal.Inc()
}

// DecodeFailed records a dropped undecodable frame.
func (m *Monitor) DecodeFailed() {
	m.decodeFailures.Inc()
}

// AppendFailed records a failed stream append.
func (m *Monitor) AppendFailed() {
	m.appendFailures.Inc()
}

// MaybeReport closes the window and logs the rate if at least one period has
// elapsed since the window opened. The rate is integer messages per second
// over the configured period.
func (m *Monitor) MaybeReport(now time.Time) (rate int, reported bool) {
	if now.Sub(m.windowStart) < m.period {
		return 0, false
	}
	rate = m.count / int(m.period/time.Second)
	m.logger.Info().Int("messages_per_second", rate).Msg("Throughput report.")
	m.count = 0
	m.windowStart = now
	return rate, true
}
