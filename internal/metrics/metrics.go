// Package metrics exposes Julius client activity as Prometheus metrics.
package metrics

import (
	"errors"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/saker-ai/julius-bridge/pkg/julius"
)

const namespace = "julius"

// Metrics owns a private registry with the bridge collectors.
type Metrics struct {
	registry *prometheus.Registry

	linesReceived     prometheus.Counter
	blocksReceived    prometheus.Counter
	documentsReceived *prometheus.CounterVec
	sentences         prometheus.Counter
	malformedBlocks   prometheus.Counter
	commandsSent      *prometheus.CounterVec
	sendTimeouts      prometheus.Counter
	reconnects        prometheus.Counter
	connected         prometheus.Gauge
	sentenceScore     prometheus.Histogram
	wordConfidence    prometheus.Histogram
}

// New registers every collector, plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		linesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_received_total",
			Help:      "Protocol lines read from the module server.",
		}),
		blocksReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_received_total",
			Help:      "Complete blocks read from the module server.",
		}),
		documentsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_received_total",
			Help:      "Parsed documents by root tag.",
		}, []string{"tag"}),
		sentences: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sentences_total",
			Help:      "Recognition results converted into sentences.",
		}),
		malformedBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_blocks_total",
			Help:      "Blocks that failed to parse.",
		}),
		commandsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_sent_total",
			Help:      "Commands written to the module server by outcome.",
		}, []string{"status"}),
		sendTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_timeouts_total",
			Help:      "Commands the socket did not accept in time.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Connection attempts after the first.",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 while a module-server connection is open.",
		}),
		sentenceScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sentence_score",
			Help:      "Log-likelihood score of recognized sentences.",
			Buckets:   []float64{-20000, -10000, -5000, -2000, -1000, -500, -100, 0},
		}),
		wordConfidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "word_confidence",
			Help:      "Confidence measure of recognized words.",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.linesReceived,
		m.blocksReceived,
		m.documentsReceived,
		m.sentences,
		m.malformedBlocks,
		m.commandsSent,
		m.sendTimeouts,
		m.reconnects,
		m.connected,
		m.sentenceScore,
		m.wordConfidence,
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Hooks returns client hooks that record into m. next, when non-nil, is
// called after each metric update.
func (m *Metrics) Hooks(next julius.Hooks) julius.Hooks {
	return julius.Hooks{
		OnLine: func(line string) {
			m.linesReceived.Inc()
			if next.OnLine != nil {
				next.OnLine(line)
			}
		},
		OnBlock: func(block string) {
			m.blocksReceived.Inc()
			if next.OnBlock != nil {
				next.OnBlock(block)
			}
		},
		OnDocument: func(doc *julius.Document) {
			m.documentsReceived.WithLabelValues(strings.ToLower(doc.Tag())).Inc()
			if next.OnDocument != nil {
				next.OnDocument(doc)
			}
		},
		OnResult: func(result julius.Result) {
			if result.Kind == julius.ResultSentence {
				m.ObserveSentence(*result.Sentence)
			}
			if next.OnResult != nil {
				next.OnResult(result)
			}
		},
		OnMalformed: func(err error) {
			m.malformedBlocks.Inc()
			if next.OnMalformed != nil {
				next.OnMalformed(err)
			}
		},
		OnSend: func(command string, err error) {
			m.ObserveSend(err)
			if next.OnSend != nil {
				next.OnSend(command, err)
			}
		},
		OnStateChange: func(state julius.State) {
			if state == julius.StateConnected {
				m.connected.Set(1)
			} else {
				m.connected.Set(0)
			}
			if next.OnStateChange != nil {
				next.OnStateChange(state)
			}
		},
		OnDispatcherExit: next.OnDispatcherExit,
	}
}

// ObserveSentence records a converted recognition result.
func (m *Metrics) ObserveSentence(s julius.Sentence) {
	m.sentences.Inc()
	m.sentenceScore.Observe(s.Score)
	for _, w := range s.Words {
		m.wordConfidence.Observe(w.Confidence)
	}
}

// ObserveSend records the outcome of a command write.
func (m *Metrics) ObserveSend(err error) {
	switch {
	case err == nil:
		m.commandsSent.WithLabelValues("ok").Inc()
	case errors.Is(err, julius.ErrSendTimeout):
		m.commandsSent.WithLabelValues("timeout").Inc()
		m.sendTimeouts.Inc()
	default:
		m.commandsSent.WithLabelValues("error").Inc()
	}
}

// IncReconnects counts a reconnect attempt.
func (m *Metrics) IncReconnects() {
	m.reconnects.Inc()
}
