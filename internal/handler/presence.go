package handler

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/U00A/Mental-univ-sub001/internal/middleware"
	"github.com/U00A/Mental-univ-sub001/internal/model"
	"github.com/U00A/Mental-univ-sub001/internal/service"
	"github.com/U00A/Mental-univ-sub001/pkg/response"
)

// PresenceHandler 在线状态处理器
type PresenceHandler struct {
	presence *service.PresenceService
	now      func() time.Time
}

// NewPresenceHandler 创建在线状态处理器
func NewPresenceHandler(presence *service.PresenceService) *PresenceHandler {
	return &PresenceHandler{presence: presence, now: time.Now}
}

// Get 用户在线状态
// GET /api/v1/presence/:userId
func (h *PresenceHandler) Get(c *gin.Context) {
	p, err := h.presence.Get(c.Request.Context(), c.Param("userId"))
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, gin.H{
		"userId":   p.UserID,
		"isOnline": p.IsOnline,
		"lastSeen": lastSeenOrNil(p),
		"label":    FormatPresence(*p, h.now()),
	})
}

// Online 当前用户上线
// POST /api/v1/presence/online
func (h *PresenceHandler) Online(c *gin.Context) {
	if err := h.presence.SetOnline(c.Request.Context(), middleware.GetUserID(c)); err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, nil)
}

// Offline 当前用户下线
// POST /api/v1/presence/offline
func (h *PresenceHandler) Offline(c *gin.Context) {
	if err := h.presence.SetOffline(c.Request.Context(), middleware.GetUserID(c), h.now()); err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, nil)
}

func lastSeenOrNil(p *model.Presence) *time.Time {
	if p.LastSeen.IsZero() {
		return nil
	}
	t := p.LastSeen
	return &t
}

// FormatPresence 在线状态的展示文案
func FormatPresence(p model.Presence, now time.Time) string {
	if p.IsOnline {
		return "Active now"
	}
	if p.LastSeen.IsZero() {
		return "Offline"
	}

	d := now.Sub(p.LastSeen)
	switch {
	case d < time.Minute:
		return "Last seen just now"
	case d < time.Hour:
		return "Last seen " + plural(int(d/time.Minute), "minute") + " ago"
	case d < 24*time.Hour:
		return "Last seen " + plural(int(d/time.Hour), "hour") + " ago"
	case d < 7*24*time.Hour:
		return "Last seen " + plural(int(d/(24*time.Hour)), "day") + " ago"
	}
	return "Last seen " + p.LastSeen.In(now.Location()).Format("Jan 2")
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
