// Package metrics exposes instrument server activity to Prometheus.
//
// A Collector is also a log.Logger: chained into the server's protocol
// logger it counts every reply the instrument sends, by channel, procedure
// and device error code.
package metrics

import (
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vxi11-protocol/vxi11-go/pkg/log"
	"github.com/vxi11-protocol/vxi11-go/pkg/wire"
)

const namespace = "vxi11"

// Collector is a prometheus.Collector for a VXI-11 instrument server.
type Collector struct {
	calls        *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	links        prometheus.Gauge
	connections  prometheus.Gauge
	srqs         *prometheus.CounterVec
}

// NewCollector returns a new Collector.
func NewCollector() *Collector {
	return &Collector{
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "calls_total",
				Help:      "The number of answered calls.",
			}, []string{"channel", "procedure", "error"},
		),
		callDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "call_duration_seconds",
				Help:      "The time taken to answer a call.",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			}, []string{"channel", "procedure"},
		),
		links: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_links",
				Help:      "The number of open links.",
			},
		),
		connections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "core_connections",
				Help:      "The number of open core channel connections.",
			},
		),
		srqs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "service_requests_total",
				Help:      "The number of service requests sent to controllers.",
			}, []string{"result"},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.calls.Describe(ch)
	c.callDuration.Describe(ch)
	c.links.Describe(ch)
	c.connections.Describe(ch)
	c.srqs.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.calls.Collect(ch)
	c.callDuration.Collect(ch)
	c.links.Collect(ch)
	c.connections.Collect(ch)
	c.srqs.Collect(ch)
}

// Log implements log.Logger. Only replies sent by an instrument are counted.
func (c *Collector) Log(event log.Event) {
	if event.Call == nil || event.Call.Type != log.MessageTypeReply || event.Direction != log.DirectionOut {
		return
	}
	proc := event.Call.ProcedureName
	if proc == "" {
		proc = strconv.FormatUint(uint64(event.Call.Procedure), 10)
	}
	code := "none"
	if event.Call.DeviceError != nil {
		code = wire.ErrorCode(*event.Call.DeviceError).String()
	}
	channel := strings.ToLower(event.Channel.String())
	c.calls.WithLabelValues(channel, proc, code).Inc()
	if event.Call.ProcessingTime != nil {
		c.callDuration.WithLabelValues(channel, proc).Observe(event.Call.ProcessingTime.Seconds())
	}
}

// LinkOpened records a created link.
func (c *Collector) LinkOpened() { c.links.Inc() }

// LinkClosed records a destroyed link.
func (c *Collector) LinkClosed() { c.links.Dec() }

// ConnectionOpened records a new core connection.
func (c *Collector) ConnectionOpened() { c.connections.Inc() }

// ConnectionClosed records a closed core connection.
func (c *Collector) ConnectionClosed() { c.connections.Dec() }

// ServiceRequest records one device_intr_srq, failed or not.
func (c *Collector) ServiceRequest(err error) {
	if err != nil {
		c.srqs.WithLabelValues("error").Inc()
		return
	}
	c.srqs.WithLabelValues("sent").Inc()
}

var (
	_ prometheus.Collector = (*Collector)(nil)
	_ log.Logger           = (*Collector)(nil)
)
