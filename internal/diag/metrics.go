package diag

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// 指标命名：
// - fragpuzzle_op_total{comp,stage,result}
// - fragpuzzle_error_total{comp,code}
// - fragpuzzle_op_duration_ms{comp,stage}
// - fragpuzzle_collector_inflight / fragpuzzle_collector_outcomes_total{kind}
// - fragpuzzle_http_requests_total{route,code}

const namespace = "fragpuzzle"

// Registry 为进程内指标注册表；服务端经 /metrics 导出。
var Registry = prometheus.NewRegistry()

var (
	opTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "op_total",
		Help:      "Operations by component, stage and result.",
	}, []string{"comp", "stage", "result"})

	errorTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "error_total",
		Help:      "Errors by component and classified code.",
	}, []string{"comp", "code"})

	opDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "op_duration_ms",
		Help:      "Stage duration in milliseconds.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 15),
	}, []string{"comp", "stage"})

	collectorInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "collector",
		Name:      "inflight",
		Help:      "Calls issued by the collector and not yet merged.",
	})

	collectorOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "collector",
		Name:      "outcomes_total",
		Help:      "Merged call outcomes by kind (success, duplicate, rejected, failed).",
	}, []string{"kind"})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Fragment endpoint requests by route and status code.",
	}, []string{"route", "code"})
)

func init() {
	Registry.MustRegister(
		opTotal, errorTotal, opDuration,
		collectorInFlight, collectorOutcomes, httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// IncOp 累加操作计数（result=success|error）。
func IncOp(comp, stage, result string) {
	opTotal.WithLabelValues(comp, stage, result).Inc()
}

// IncError 按分类累加错误计数。
func IncError(comp, code string) {
	errorTotal.WithLabelValues(comp, code).Inc()
}

// ObserveDuration 记录阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	opDuration.WithLabelValues(comp, stage).Observe(float64(durMS))
}

// SetInFlight 记录 Collector 当前在途调用数。
func SetInFlight(n int) { collectorInFlight.Set(float64(n)) }

// IncOutcome 累加一次合并结果。
func IncOutcome(kind string) { collectorOutcomes.WithLabelValues(kind).Inc() }

// IncHTTP 累加一次端点请求。
func IncHTTP(route string, code int) {
	httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// RecordError 同时记录错误日志与计数（未知分类不计 error_total）。
func RecordError(l *Logger, comp string, err error, kv map[string]string) Code {
	code := Classify(err)
	l.ErrorWithKV(comp, string(code), err.Error(), nil, kv)
	IncOp(comp, "error", "error")
	if code != CodeUnknown {
		IncError(comp, string(code))
	}
	return code
}

// HTTPRequestsCounter 返回单个请求计数序列（供测试读取）。
func HTTPRequestsCounter(route string, code int) prometheus.Counter {
	return httpRequests.WithLabelValues(route, strconv.Itoa(code))
}
