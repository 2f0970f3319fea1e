package model

import "time"

// Presence 用户在线状态
// LastSeen 仅在从在线变为离线时写入
type Presence struct {
	UserID   string    `json:"userId"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen,omitempty"`
}
