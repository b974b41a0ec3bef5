package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transformTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "classvault",
			Subsystem: "transform",
			Name:      "documents_total",
			Help:      "文档变换总数。",
		},
		[]string{"format", "outcome"},
	)
)

// 变换结果标签。
const (
	OutcomeOK       = "ok"
	OutcomeCorrupt  = "corrupt"
	OutcomeFallback = "fallback"
	OutcomeRefused  = "refused"
)

// ObserveTransform 记录一次文档变换结果。
func ObserveTransform(format, outcome string) {
	transformTotal.WithLabelValues(format, outcome).Inc()
}
