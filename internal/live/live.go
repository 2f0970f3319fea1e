// Package live 基于变更总线维护实时视图
//
// 每个订阅拥有一个投递协程，回调按顺序串行执行。Unsubscribe 返回后不会再有回调，
// 它会等待正在执行的回调结束，因此不能在回调内部同步调用 Unsubscribe。
//
// 订阅先于快照建立，快照之后到达的变更一定会被应用；Reducer.Apply 需要容忍
// 重放已经包含在快照里的变更。
package live

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/U00A/Mental-univ-sub001/internal/metrics"
	"github.com/U00A/Mental-univ-sub001/internal/pubsub"
	apperrors "github.com/U00A/Mental-univ-sub001/pkg/errors"
)

// Reducer 描述一个实时视图：如何取快照，如何应用一条变更
type Reducer[S any] interface {
	Snapshot(ctx context.Context) (S, error)
	// Apply 应用一条变更；event 为 nil 表示定时重新评估。next 总会被采用，changed 为 false 时不回调
	Apply(ctx context.Context, state S, event []byte) (next S, changed bool, err error)
}

// Deadliner 可选接口：视图在某一时刻会自行变化（例如输入中信号过期）
type Deadliner[S any] interface {
	NextDeadline(state S) (time.Time, bool)
}

// Options 订阅选项
type Options struct {
	Feed         string        // 指标标签
	MaxRetries   int           // 中断后重订阅次数
	RetryBackoff time.Duration // 首次重试间隔，之后翻倍
	OnError      func(error)   // 最终失败时收到 SubscriptionError，视图应标记为过期
}

func (o *Options) defaults() {
	if o.Feed == "" {
		o.Feed = "unknown"
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 200 * time.Millisecond
	}
}

// Subscription 实时订阅句柄
type Subscription struct {
	cancel context.CancelFunc
	once   sync.Once

	mu     sync.Mutex // 回调期间持有
	closed bool
	done   chan struct{}
}

// Unsubscribe 幂等；返回后不会再触发回调
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.cancel()
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
	})
}

// Done 投递协程退出后关闭
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) deliver(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	fn()
	return true
}

// Subscribe 订阅 subject 并把视图推送给 cb，首个快照同步取得后才返回
func Subscribe[S any](ctx context.Context, bus pubsub.Bus, subject string, r Reducer[S], cb func(S), opts Options) (*Subscription, error) {
	opts.defaults()

	q := newQueue()
	busSub, err := bus.Subscribe(subject, q.push)
	if err != nil {
		return nil, apperrors.ErrSubscriptionError.Wrap(err)
	}

	state, err := r.Snapshot(ctx)
	if err != nil {
		_ = busSub.Unsubscribe()
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{cancel: cancel, done: make(chan struct{})}
	go func() {
		select {
		case <-ctx.Done():
			sub.Unsubscribe()
		case <-sub.done:
		}
	}()

	l := &loop[S]{
		bus:     bus,
		subject: subject,
		reducer: r,
		cb:      cb,
		opts:    opts,
		queue:   q,
		busSub:  busSub,
		sub:     sub,
		logger:  slog.Default(),
	}
	metrics.LiveSubscriptions.WithLabelValues(opts.Feed).Inc()
	go l.run(loopCtx, state)

	return sub, nil
}

type loop[S any] struct {
	bus     pubsub.Bus
	subject string
	reducer Reducer[S]
	cb      func(S)
	opts    Options
	queue   *queue
	busSub  pubsub.Subscription
	sub     *Subscription
	logger  *slog.Logger
}

func (l *loop[S]) run(ctx context.Context, state S) {
	defer func() {
		if l.busSub != nil {
			_ = l.busSub.Unsubscribe()
		}
		metrics.LiveSubscriptions.WithLabelValues(l.opts.Feed).Dec()
		close(l.sub.done)
	}()

	l.emit(state)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		l.arm(timer, state)

		select {
		case <-ctx.Done():
			return

		case <-l.queue.signal:
			// 每条变更单独回调，订阅方能观察到每一次状态迁移
			for _, ev := range l.queue.drain() {
				next, ok, err := l.reducer.Apply(ctx, state, ev)
				if err != nil {
					l.logger.Warn("Failed to apply live event", "subject", l.subject, "error", err)
					continue
				}
				state = next
				if ok {
					l.emit(state)
				}
			}

		case <-timer.C:
			next, ok, err := l.reducer.Apply(ctx, state, nil)
			if err != nil {
				l.logger.Warn("Failed to re-evaluate live view", "subject", l.subject, "error", err)
				continue
			}
			state = next
			if ok {
				l.emit(state)
			}

		case cause := <-l.busSub.Dropped():
			l.logger.Warn("Live feed dropped", "subject", l.subject, "error", cause)
			l.busSub = nil
			next, ok := l.resubscribe(ctx)
			if !ok {
				return
			}
			state = next
			l.emit(state)
		}
	}
}

// arm 按视图的下一个截止时间设置定时器
func (l *loop[S]) arm(timer *time.Timer, state S) {
	d, ok := l.reducer.(Deadliner[S])
	if !ok {
		return
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	at, ok := d.NextDeadline(state)
	if !ok {
		return
	}
	wait := time.Until(at)
	if wait < 0 {
		wait = 0
	}
	timer.Reset(wait)
}

// resubscribe 按退避重试，成功后重新取快照以覆盖中断期间丢失的变更
func (l *loop[S]) resubscribe(ctx context.Context) (S, bool) {
	var zero S
	backoff := l.opts.RetryBackoff

	var lastErr error
	for attempt := 1; attempt <= l.opts.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return zero, false
		case <-time.After(backoff):
		}
		backoff *= 2

		// 旧订阅残留的变更已被随后的快照覆盖；新订阅收到的变更必须保留
		l.queue.drain()
		busSub, err := l.bus.Subscribe(l.subject, l.queue.push)
		if err != nil {
			lastErr = err
			l.logger.Warn("Failed to resubscribe", "subject", l.subject, "attempt", attempt, "error", err)
			continue
		}
		state, err := l.reducer.Snapshot(ctx)
		if err != nil {
			_ = busSub.Unsubscribe()
			lastErr = err
			continue
		}
		l.busSub = busSub
		l.logger.Info("Live feed resubscribed", "subject", l.subject, "attempt", attempt)
		return state, true
	}

	metrics.SubscriptionErrors.WithLabelValues(l.opts.Feed).Inc()
	l.logger.Error("Live feed gave up", "subject", l.subject, "error", lastErr)
	if l.opts.OnError != nil {
		l.sub.deliver(func() { l.opts.OnError(apperrors.ErrSubscriptionError.Wrap(lastErr)) })
	}
	return zero, false
}

func (l *loop[S]) emit(state S) {
	l.sub.deliver(func() { l.cb(state) })
}

// queue 无界事件队列，总线回调只做入队
type queue struct {
	mu     sync.Mutex
	items  [][]byte
	signal chan struct{}
}

func newQueue() *queue {
	return &queue{signal: make(chan struct{}, 1)}
}

func (q *queue) push(data []byte) {
	q.mu.Lock()
	q.items = append(q.items, data)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *queue) drain() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}
