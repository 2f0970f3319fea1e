package model

// Identity 当前登录用户，由认证模块提供
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}
