package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// Probe 单项检查，返回 nil 表示正常
type Probe func(ctx context.Context) error

type namedProbe struct {
	name  string
	probe Probe
}

// Status 健康状态，key 为组件名
type Status map[string]string

// Checker 健康检查器，只检查实际启用的组件
type Checker struct {
	probes  []namedProbe
	timeout time.Duration
}

// NewChecker 创建健康检查器
func NewChecker() *Checker {
	return &Checker{timeout: 2 * time.Second}
}

// Add 注册检查项
func (h *Checker) Add(name string, probe Probe) *Checker {
	h.probes = append(h.probes, namedProbe{name: name, probe: probe})
	return h
}

// Check 并行执行全部检查
func (h *Checker) Check(ctx context.Context) Status {
	status := make(Status, len(h.probes))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, p := range h.probes {
		wg.Add(1)
		go func(p namedProbe) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()

			result := StatusConnected
			if err := p.probe(pctx); err != nil {
				result = StatusDisconnected
			}
			mu.Lock()
			status[p.name] = result
			mu.Unlock()
		}(p)
	}
	wg.Wait()
	return status
}

// Healthy 全部组件正常
func (s Status) Healthy() bool {
	for _, v := range s {
		if v != StatusConnected {
			return false
		}
	}
	return true
}

// IsHealthy 检查是否健康
func (h *Checker) IsHealthy(ctx context.Context) bool {
	return h.Check(ctx).Healthy()
}

// ServeHTTP HTTP 健康检查端点
func (h *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := h.Check(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if status.Healthy() {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}

// ReadyHandler /ready 端点
func (h *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.IsHealthy(r.Context()) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("Not Ready"))
		}
	}
}

// NATSProbe NATS 连接状态
func NATSProbe(nc *nats.Conn) Probe {
	return func(context.Context) error {
		if !nc.IsConnected() {
			return nats.ErrConnectionClosed
		}
		return nil
	}
}

// RedisProbe Redis PING
func RedisProbe(rdb redis.Cmdable) Probe {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}

// DatabaseProbe PostgreSQL ping
func DatabaseProbe(db *pgxpool.Pool) Probe {
	return func(ctx context.Context) error {
		return db.Ping(ctx)
	}
}
