package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessagesAppended 成功写入的消息数，按类型区分
	MessagesAppended = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carechat",
			Name:      "messages_appended_total",
			Help:      "Messages persisted, by kind.",
		},
		[]string{"kind"},
	)

	// SendFailures 写入失败、停留在 sending 的消息数
	SendFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "carechat",
		Name:      "send_failures_total",
		Help:      "Appends that failed and left a message in sending state.",
	})

	// StatusTransitions 投递状态迁移次数
	StatusTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carechat",
			Name:      "status_transitions_total",
			Help:      "Delivery status transitions, by target status.",
		},
		[]string{"status"},
	)

	// Uploads 附件上传结果
	Uploads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carechat",
			Name:      "attachment_uploads_total",
			Help:      "Attachment uploads, by kind and result.",
		},
		[]string{"kind", "result"},
	)

	// UploadBytes 上传字节数
	UploadBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "carechat",
		Name:      "attachment_upload_bytes_total",
		Help:      "Bytes written to the blob store.",
	})

	// LiveSubscriptions 当前活跃的实时订阅，按类型区分
	LiveSubscriptions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "carechat",
			Name:      "live_subscriptions",
			Help:      "Open live subscriptions, by feed.",
		},
		[]string{"feed"},
	)

	// SubscriptionErrors 重订阅失败、视图被标记为过期的次数
	SubscriptionErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carechat",
			Name:      "subscription_errors_total",
			Help:      "Live feeds that gave up after resubscribe attempts.",
		},
		[]string{"feed"},
	)
)

func init() {
	prometheus.MustRegister(
		MessagesAppended,
		SendFailures,
		StatusTransitions,
		Uploads,
		UploadBytes,
		LiveSubscriptions,
		SubscriptionErrors,
	)
}

// Handler /metrics 处理器
func Handler() http.Handler {
	return promhttp.Handler()
}
