// Package blob 附件二进制存储
package blob

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound 对象不存在
var ErrNotFound = errors.New("blob not found")

// Store 附件存储后端，Put 返回可长期访问的 URL
type Store interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (url string, err error)
}

// Object 读取出的对象
type Object struct {
	Data        []byte
	ContentType string
}
