// Package metrics 车位占用相关的 Prometheus 指标
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransitionsTotal 成功的状态变化次数
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "occupancy_transitions_total",
			Help: "Total number of committed spot state transitions",
		},
		[]string{"reason", "state"},
	)

	// ConflictsTotal 被拒绝的操作（业务冲突）
	ConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "occupancy_conflicts_total",
			Help: "Total number of operations rejected with a domain conflict",
		},
		[]string{"kind"},
	)

	// InconsistenciesTotal 检测到的存储不一致（需离线修复）
	InconsistenciesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "occupancy_inconsistencies_total",
			Help: "Total number of detected spot/session inconsistencies",
		},
	)

	// OperationDuration 管理操作耗时
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "occupancy_operation_duration_seconds",
			Help:    "Duration of occupancy operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"operation", "outcome"},
	)

	// EventsPublishedTotal 已发布的状态变化事件
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "occupancy_events_published_total",
			Help: "Total number of SpotStateChanged events published",
		},
		[]string{"outcome"},
	)

	// BreakerState 存储熔断器状态 (0=closed, 1=half-open, 2=open)
	BreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "occupancy_store_breaker_state",
			Help: "Circuit breaker state of the occupancy store",
		},
	)
)

// RecordTransition 记录一次成功的状态变化
func RecordTransition(reason, state string) {
	TransitionsTotal.WithLabelValues(reason, state).Inc()
}

// RecordConflict 记录一次业务冲突
func RecordConflict(kind string) {
	ConflictsTotal.WithLabelValues(kind).Inc()
}

// RecordInconsistency 记录一次不一致
func RecordInconsistency() {
	InconsistenciesTotal.Inc()
}

// ObserveOperation 记录操作耗时
func ObserveOperation(operation string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	OperationDuration.WithLabelValues(operation, outcome).Observe(time.Since(start).Seconds())
}

// RecordPublish 记录事件发布结果
func RecordPublish(err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	EventsPublishedTotal.WithLabelValues(outcome).Inc()
}
