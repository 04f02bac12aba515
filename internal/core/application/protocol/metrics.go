package protocol

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradeproto",
		Subsystem: "protocol",
		Name:      "steps_total",
		Help:      "Protocol steps by name and outcome.",
	}, []string{"step", "result"})

	taskFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradeproto",
		Subsystem: "protocol",
		Name:      "task_failures_total",
		Help:      "Failed protocol tasks by name.",
	}, []string{"task"})

	timeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tradeproto",
		Subsystem: "protocol",
		Name:      "timeouts_total",
		Help:      "Protocol steps that timed out waiting for the peer.",
	})

	acksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradeproto",
		Subsystem: "protocol",
		Name:      "acks_total",
		Help:      "Acks sent and received.",
	}, []string{"direction", "success"})

	resendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradeproto",
		Subsystem: "protocol",
		Name:      "resends_total",
		Help:      "Mailbox messages resent for lack of ack.",
	}, []string{"kind"})
)
