package nats

// NATS Subject 常量定义
const (
	// SubjectSessionEvents 接入层 -> 会话服务的上行会话事件
	SubjectSessionEvents = "carechat.session.events"

	// QueueGroupSession 会话服务队列组，同一事件只被一个实例处理
	QueueGroupSession = "carechat-session"
)
