package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/U00A/Mental-univ-sub001/pkg/errors"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// 错误码常量（使用 pkg/errors 包的定义）
const (
	CodeSuccess           = apperrors.CodeSuccess
	CodeTokenInvalid      = apperrors.CodeTokenInvalid
	CodeTokenExpired      = apperrors.CodeTokenExpired
	CodeValidation        = apperrors.CodeValidation
	CodeForbidden         = apperrors.CodeForbidden
	CodeNotFound          = apperrors.CodeNotFound
	CodeUploadFailed      = apperrors.CodeUploadFailed
	CodeWriteFailed       = apperrors.CodeWriteFailed
	CodeSubscriptionError = apperrors.CodeSubscriptionError
	CodeServerError       = apperrors.CodeServerError
	CodeDBError           = apperrors.CodeDBError
	CodeTooManyRequest    = apperrors.CodeTooManyRequest
)

var codeMessages = map[int]string{
	CodeSuccess:           "success",
	CodeTokenInvalid:      "Token 无效",
	CodeTokenExpired:      "Token 已过期",
	CodeValidation:        "参数校验失败",
	CodeForbidden:         "无权访问",
	CodeNotFound:          "资源不存在",
	CodeUploadFailed:      "附件上传失败",
	CodeWriteFailed:       "写入失败",
	CodeSubscriptionError: "实时订阅已中断",
	CodeServerError:       "服务器内部错误",
	CodeDBError:           "数据库错误",
	CodeTooManyRequest:    "请求过于频繁，请稍后再试",
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// Error 错误响应
func Error(c *gin.Context, code int) {
	message := codeMessages[code]
	if message == "" {
		message = "unknown error"
	}
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

// ErrorWithMsg 自定义错误消息
func ErrorWithMsg(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

// ErrorFromAppError 从 AppError 生成错误响应
func ErrorFromAppError(c *gin.Context, err error) {
	ErrorWithData(c, err, nil)
}

// ErrorWithData 错误响应同时带回数据，例如发送失败时的本地回显
func ErrorWithData(c *gin.Context, err error, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    apperrors.GetCode(err),
		Message: apperrors.GetMessage(err),
		Data:    data,
	})
}

// Unauthorized 未认证
func Unauthorized(c *gin.Context, code int) {
	c.JSON(http.StatusUnauthorized, Response{
		Code:    code,
		Message: codeMessages[code],
		Data:    nil,
	})
}

// TooManyRequests 请求过多
func TooManyRequests(c *gin.Context) {
	c.JSON(http.StatusTooManyRequests, Response{
		Code:    CodeTooManyRequest,
		Message: codeMessages[CodeTooManyRequest],
		Data:    nil,
	})
}
