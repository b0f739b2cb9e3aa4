package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "comms"

// Metrics 连接管理器指标
type Metrics struct {
	ConnectionsActive *prometheus.GaugeVec
	ConnectionsTotal  *prometheus.CounterVec
	Disconnects       *prometheus.CounterVec

	Dials         *prometheus.CounterVec
	DialErrors    *prometheus.CounterVec
	DialDuration  prometheus.Histogram
	PhaseDuration *prometheus.HistogramVec

	ListenerErrors   prometheus.Counter
	InboundRejected  *prometheus.CounterVec
	SubstreamsOpened *prometheus.CounterVec

	reg prometheus.Registerer
}

// New 创建指标并注册到 reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		reg: reg,
		ConnectionsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of established peer connections",
		}, []string{"direction"}),
		ConnectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total peer connections established",
		}, []string{"direction"}),
		Disconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Total peer disconnections by reason",
		}, []string{"reason"}),
		Dials: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dials_total",
			Help:      "Total dial invocations by result",
		}, []string{"result"}),
		DialErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dial_errors_total",
			Help:      "Total failed dials by error kind",
		}, []string{"kind"}),
		DialDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dial_duration_seconds",
			Help:      "Duration of dial invocations",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
		PhaseDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upgrade_phase_duration_seconds",
			Help:      "Duration of connection upgrade phases",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"phase"}),
		ListenerErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_errors_total",
			Help:      "Total listener bind and accept failures",
		}),
		InboundRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_rejected_total",
			Help:      "Total inbound connections rejected by reason",
		}, []string{"reason"}),
		SubstreamsOpened: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "substreams_opened_total",
			Help:      "Total substreams opened by direction",
		}, []string{"direction"}),
	}
}

// RecordConnected 记录连接建立
func (m *Metrics) RecordConnected(direction string) {
	if m == nil {
		return
	}
	m.ConnectionsActive.WithLabelValues(direction).Inc()
	m.ConnectionsTotal.WithLabelValues(direction).Inc()
}

// RecordDisconnected 记录连接断开
func (m *Metrics) RecordDisconnected(direction, reason string) {
	if m == nil {
		return
	}
	m.ConnectionsActive.WithLabelValues(direction).Dec()
	m.Disconnects.WithLabelValues(reason).Inc()
}

// RecordDial 记录一次拨号结果，errKind 为空表示成功
func (m *Metrics) RecordDial(errKind string, d time.Duration) {
	if m == nil {
		return
	}
	m.DialDuration.Observe(d.Seconds())
	if errKind == "" {
		m.Dials.WithLabelValues("success").Inc()
		return
	}
	m.Dials.WithLabelValues("failure").Inc()
	m.DialErrors.WithLabelValues(errKind).Inc()
}

// ObservePhase 记录升级阶段耗时
func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.PhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// RecordListenerError 记录监听失败
func (m *Metrics) RecordListenerError() {
	if m == nil {
		return
	}
	m.ListenerErrors.Inc()
}

// RecordInboundRejected 记录被拒绝的入站连接
func (m *Metrics) RecordInboundRejected(reason string) {
	if m == nil {
		return
	}
	m.InboundRejected.WithLabelValues(reason).Inc()
}

// RecordSubstream 记录子流打开
func (m *Metrics) RecordSubstream(direction string) {
	if m == nil {
		return
	}
	m.SubstreamsOpened.WithLabelValues(direction).Inc()
}

// WatchOpenSubstreams 注册采集时计算的打开子流数
func (m *Metrics) WatchOpenSubstreams(count func() int) {
	if m == nil {
		return
	}
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "substreams_open",
		Help:      "Number of substreams currently open across all connections",
	}, func() float64 { return float64(count()) })
}

// WatchDroppedEvents 注册事件总线丢弃计数
func (m *Metrics) WatchDroppedEvents(dropped func() int64) {
	if m == nil {
		return
	}
	promauto.With(m.reg).NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "Total lifecycle events dropped because a subscriber buffer was full",
	}, func() float64 { return float64(dropped()) })
}
