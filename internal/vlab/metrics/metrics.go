// Package metrics 节点生命周期的 Prometheus 指标
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vlab"

// 操作结果标签
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Metrics 指标集合，nil 时所有方法都是空操作
type Metrics struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	nodes      *prometheus.GaugeVec
}

// New 创建指标并注册到独立的 Registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_operations_total",
			Help:      "Number of node lifecycle operations by operation and result.",
		}, []string{"operation", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_operation_duration_seconds",
			Help:      "Duration of node lifecycle operations including external calls.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"operation"}),
		nodes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nodes",
			Help:      "Number of nodes by status as of the last persisted snapshot.",
		}, []string{"status"}),
	}

	m.registry.MustRegister(
		m.operations,
		m.duration,
		m.nodes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveOperation 记录一次操作的结果和耗时
func (m *Metrics) ObserveOperation(operation string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	m.operations.WithLabelValues(operation, result).Inc()
	m.duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// SetNodeCounts 更新各状态节点数
func (m *Metrics) SetNodeCounts(counts map[string]int) {
	if m == nil {
		return
	}
	m.nodes.Reset()
	for status, n := range counts {
		m.nodes.WithLabelValues(status).Set(float64(n))
	}
}

// Handler 返回 /metrics 的 http.Handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
