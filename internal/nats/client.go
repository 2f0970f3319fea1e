// Package nats NATS 连接、跨实例变更总线以及会话事件订阅
package nats

import (
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/U00A/Mental-univ-sub001/internal/config"
)

// Client NATS 客户端封装
type Client struct {
	conn   *nats.Conn
	logger *slog.Logger

	mu       sync.Mutex
	onError  []func(sub *nats.Subscription, err error)
	onClosed []func()
}

// NewClient 创建 NATS 客户端
func NewClient(cfg config.NATSConfig) (*Client, error) {
	c := &Client{logger: slog.Default()}

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("Disconnected from NATS", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("Reconnected to NATS", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			slog.Warn("NATS async error", "error", err)
			c.dispatchError(sub, err)
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			slog.Info("NATS connection closed")
			c.dispatchClosed()
		}),
		nats.Timeout(10 * time.Second),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return c, nil
}

// Conn 返回底层 NATS 连接
func (c *Client) Conn() *nats.Conn {
	return c.conn
}

// Close 关闭连接
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// IsConnected 检查连接状态
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

func (c *Client) handleErrors(fn func(sub *nats.Subscription, err error)) {
	c.mu.Lock()
	c.onError = append(c.onError, fn)
	c.mu.Unlock()
}

func (c *Client) handleClosed(fn func()) {
	c.mu.Lock()
	c.onClosed = append(c.onClosed, fn)
	c.mu.Unlock()
}

func (c *Client) dispatchError(sub *nats.Subscription, err error) {
	c.mu.Lock()
	fns := append([]func(*nats.Subscription, error){}, c.onError...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(sub, err)
	}
}

func (c *Client) dispatchClosed() {
	c.mu.Lock()
	fns := append([]func(){}, c.onClosed...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
