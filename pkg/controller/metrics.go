package controller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	packetInTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fattree_controller_packet_in_total",
		Help: "Packet-in events processed, by forwarding decision.",
	}, []string{"decision"})

	flowInstallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fattree_controller_flow_installs_total",
		Help: "Flow-mod messages sent to switches, by result.",
	}, []string{"result"})

	flowEvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fattree_controller_flow_evictions_total",
		Help: "Flow entries removed from the controller's tables, by reason.",
	}, []string{"reason"})

	droppedEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fattree_controller_dropped_events_total",
		Help: "Events discarded because a switch queue was full or the switch was gone.",
	})

	connectedSwitches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fattree_controller_connected_switches",
		Help: "Switches with an open control connection.",
	})
)

// Forwarding decisions used as metric labels and in logs.
const (
	decisionForward = "forward"
	decisionFlood   = "flood"
	decisionDrop    = "drop"
	decisionIgnore  = "ignore"
)
