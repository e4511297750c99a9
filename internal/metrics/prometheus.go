package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements the Collector interface using Prometheus metrics.
type PrometheusCollector struct {
	// Connection metrics
	connectionsTotal  *prometheus.CounterVec
	connectionsActive *prometheus.GaugeVec

	// Command metrics
	commandsTotal      *prometheus.CounterVec
	lineOverflowsTotal *prometheus.CounterVec

	// Delivery metrics
	deliveriesTotal       prometheus.Counter
	deliveredRecipients   prometheus.Counter
	deliveryFailuresTotal *prometheus.CounterVec
	deliveredMessageBytes prometheus.Histogram

	// Retrieval metrics
	authAttemptsTotal    *prometheus.CounterVec
	retrievalsTotal      prometheus.Counter
	retrievedBytesTotal  prometheus.Counter
	deletedMessagesTotal prometheus.Counter
}

// NewPrometheusCollector creates a new PrometheusCollector with all metrics registered.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		connectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridgemail_connections_total",
			Help: "Total number of connections accepted.",
		}, []string{"protocol"}),
		connectionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bridgemail_connections_active",
			Help: "Number of currently active connections.",
		}, []string{"protocol"}),

		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridgemail_commands_total",
			Help: "Total number of protocol commands processed.",
		}, []string{"protocol", "command"}),
		lineOverflowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridgemail_line_overflows_total",
			Help: "Total number of wire lines discarded for exceeding the line limit.",
		}, []string{"protocol"}),

		deliveriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridgemail_deliveries_total",
			Help: "Total number of messages committed to the store.",
		}),
		deliveredRecipients: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridgemail_delivered_recipients_total",
			Help: "Total number of recipient memberships created by deliveries.",
		}),
		deliveryFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridgemail_delivery_failures_total",
			Help: "Total number of deliveries rolled back.",
		}, []string{"reason"}),
		deliveredMessageBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridgemail_delivered_message_bytes",
			Help:    "Size of delivered message bodies in bytes.",
			Buckets: []float64{256, 1024, 10240, 102400, 1048576, 10485760},
		}),

		authAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridgemail_auth_attempts_total",
			Help: "Total number of POP3 authentication attempts.",
		}, []string{"result"}),
		retrievalsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridgemail_retrievals_total",
			Help: "Total number of messages retrieved over POP3.",
		}),
		retrievedBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridgemail_retrieved_bytes_total",
			Help: "Total message bytes retrieved over POP3, before dot-stuffing.",
		}),
		deletedMessagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridgemail_deleted_messages_total",
			Help: "Total number of memberships removed by committed POP3 deletes.",
		}),
	}

	// Register all metrics
	reg.MustRegister(
		c.connectionsTotal,
		c.connectionsActive,
		c.commandsTotal,
		c.lineOverflowsTotal,
		c.deliveriesTotal,
		c.deliveredRecipients,
		c.deliveryFailuresTotal,
		c.deliveredMessageBytes,
		c.authAttemptsTotal,
		c.retrievalsTotal,
		c.retrievedBytesTotal,
		c.deletedMessagesTotal,
	)

	return c
}

// ConnectionOpened increments the connection counter and active gauge.
func (c *PrometheusCollector) ConnectionOpened(protocol string) {
	c.connectionsTotal.WithLabelValues(protocol).Inc()
	c.connectionsActive.WithLabelValues(protocol).Inc()
}

// ConnectionClosed decrements the active connections gauge.
func (c *PrometheusCollector) ConnectionClosed(protocol string) {
	c.connectionsActive.WithLabelValues(protocol).Dec()
}

// CommandProcessed increments the command counter.
func (c *PrometheusCollector) CommandProcessed(protocol, verb string) {
	c.commandsTotal.WithLabelValues(protocol, verb).Inc()
}

// LineOverflow increments the overflow counter.
func (c *PrometheusCollector) LineOverflow(protocol string) {
	c.lineOverflowsTotal.WithLabelValues(protocol).Inc()
}

// MessageDelivered records one committed delivery with its recipient fan-out
// and body size.
func (c *PrometheusCollector) MessageDelivered(recipients int, sizeBytes int64) {
	c.deliveriesTotal.Inc()
	c.deliveredRecipients.Add(float64(recipients))
	c.deliveredMessageBytes.Observe(float64(sizeBytes))
}

// DeliveryFailed increments the delivery failure counter.
func (c *PrometheusCollector) DeliveryFailed(reason string) {
	c.deliveryFailuresTotal.WithLabelValues(reason).Inc()
}

// AuthAttempt increments the authentication attempts counter.
func (c *PrometheusCollector) AuthAttempt(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.authAttemptsTotal.WithLabelValues(result).Inc()
}

// MessageRetrieved records one RETR with its body size.
func (c *PrometheusCollector) MessageRetrieved(sizeBytes int64) {
	c.retrievalsTotal.Inc()
	c.retrievedBytesTotal.Add(float64(sizeBytes))
}

// MessagesDeleted records the memberships removed by a committed QUIT.
func (c *PrometheusCollector) MessagesDeleted(count int) {
	c.deletedMessagesTotal.Add(float64(count))
}
