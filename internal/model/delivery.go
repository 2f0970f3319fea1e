package model

// DeliveryStatus 消息投递状态，只能前进
type DeliveryStatus string

const (
	StatusSending   DeliveryStatus = "sending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
)

var statusRank = map[DeliveryStatus]int{
	StatusSending:   1,
	StatusSent:      2,
	StatusDelivered: 3,
	StatusRead:      4,
}

// Rank 状态序号，未知状态为 0
func (s DeliveryStatus) Rank() int {
	return statusRank[s]
}

// Valid 是否为已知状态
func (s DeliveryStatus) Valid() bool {
	return s.Rank() > 0
}

// Advance 计算状态迁移结果
// 目标状态不高于当前状态时保持不变，changed 为 false
func (s DeliveryStatus) Advance(to DeliveryStatus) (next DeliveryStatus, changed bool) {
	if !to.Valid() || to.Rank() <= s.Rank() {
		return s, false
	}
	return to, true
}

// Path 从当前状态前进到 to 需要依次经过的状态，不跳级
func (s DeliveryStatus) Path(to DeliveryStatus) []DeliveryStatus {
	var path []DeliveryStatus
	for _, st := range []DeliveryStatus{StatusSending, StatusSent, StatusDelivered, StatusRead} {
		if st.Rank() > s.Rank() && st.Rank() <= to.Rank() {
			path = append(path, st)
		}
	}
	return path
}
