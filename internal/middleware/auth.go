package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/U00A/Mental-univ-sub001/internal/auth"
	"github.com/U00A/Mental-univ-sub001/internal/model"
	"github.com/U00A/Mental-univ-sub001/pkg/response"
)

const identityKey = "identity"

// JWTAuth JWT 认证中间件，身份写入 context
func JWTAuth(jwtService *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c.GetHeader("Authorization"))
		if token == "" {
			response.Unauthorized(c, response.CodeTokenInvalid)
			c.Abort()
			return
		}

		claims, err := jwtService.ValidateAccessToken(token)
		if err != nil {
			if errors.Is(err, auth.ErrTokenExpired) {
				response.Unauthorized(c, response.CodeTokenExpired)
			} else {
				response.Unauthorized(c, response.CodeTokenInvalid)
			}
			c.Abort()
			return
		}

		SetIdentity(c, claims.Identity())
		c.Next()
	}
}

// extractToken 从 Authorization header 提取 token
func extractToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

// SetIdentity 写入当前用户
func SetIdentity(c *gin.Context, id model.Identity) {
	c.Set(identityKey, id)
}

// GetIdentity 从 context 获取当前用户
func GetIdentity(c *gin.Context) model.Identity {
	v, exists := c.Get(identityKey)
	if !exists {
		return model.Identity{}
	}
	id, _ := v.(model.Identity)
	return id
}

// GetUserID 从 context 获取当前用户 ID
func GetUserID(c *gin.Context) string {
	return GetIdentity(c).UserID
}
