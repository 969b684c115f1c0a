package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "strategy"

// Исходы обработки сообщения.
const (
	OutcomeAck         = "ack"
	OutcomeNack        = "nack"
	OutcomeRequeue     = "requeue"
	OutcomeDeadLetter  = "dead_letter"
	OutcomeDecodeError = "decode_error"
)

var (
	// EventsPublished — публикации по топику и результату (ok, rejected, no_channel).
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_published_total",
		Help:      "Events published to the broker by topic and result",
	}, []string{"topic", "result"})

	// EventsConsumed — обработанные доставки по топику и исходу.
	EventsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_consumed_total",
		Help:      "Deliveries handled by the consume loop by topic and outcome",
	}, []string{"topic", "outcome"})

	// BrokerConnected — 1, пока соединение и канал живы.
	BrokerConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "broker_connected",
		Help:      "Whether the broker connection and channel are live",
	})

	// ReconnectAttempts — попытки переподключения.
	ReconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broker_reconnect_attempts_total",
		Help:      "Reconnection attempts made by the connection manager",
	})

	// BrokerSignals — сигналы жизненного цикла соединения.
	BrokerSignals = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broker_signals_total",
		Help:      "Connection lifecycle signals emitted",
	}, []string{"signal"})

	// StatusTransitions — применённые переходы по целевому статусу.
	StatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "status_transitions_total",
		Help:      "Strategy status transitions applied by target status",
	}, []string{"status", "expected"})

	// Resubmitted — повторные публикации strategy.requested.
	Resubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "resubmitted_total",
		Help:      "strategy.requested events re-published by the resubmit sweep",
	}, []string{"result"})
)
