package nats

import (
	"context"
	"errors"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/U00A/Mental-univ-sub001/internal/pubsub"
)

// Bus 基于 NATS 的变更总线，多实例部署时各实例共享变更通知
// 连接关闭或订阅积压（slow consumer）时订阅被动中断，由实时视图负责重订阅并重取快照
type Bus struct {
	client *Client

	mu     sync.Mutex
	subs   map[*nats.Subscription]*busSubscription
	closed bool
}

// NewBus 创建 NATS 总线
func NewBus(client *Client) *Bus {
	b := &Bus{
		client: client,
		subs:   make(map[*nats.Subscription]*busSubscription),
	}
	client.handleErrors(b.onAsyncError)
	client.handleClosed(b.onClosed)
	return b
}

// Publish 发布变更通知
func (b *Bus) Publish(_ context.Context, subject string, data []byte) error {
	if err := b.client.conn.Publish(subject, data); err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) {
			return pubsub.ErrClosed
		}
		return err
	}
	return nil
}

// Subscribe 订阅 subject，回调在 NATS 的订阅协程中执行
func (b *Bus) Subscribe(subject string, h pubsub.Handler) (pubsub.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, pubsub.ErrClosed
	}
	s := &busSubscription{bus: b, dropped: make(chan error, 1)}
	sub, err := b.client.conn.Subscribe(subject, func(msg *nats.Msg) {
		h(msg.Data)
	})
	if err != nil {
		return nil, err
	}
	s.sub = sub
	b.subs[sub] = s
	return s, nil
}

// Close 中断全部订阅，连接由 Client 负责关闭
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	all := b.subs
	b.subs = make(map[*nats.Subscription]*busSubscription)
	b.mu.Unlock()

	for sub, s := range all {
		_ = sub.Unsubscribe()
		s.drop(pubsub.ErrClosed)
	}
	return nil
}

func (b *Bus) onAsyncError(sub *nats.Subscription, err error) {
	if sub == nil || !errors.Is(err, nats.ErrSlowConsumer) {
		return
	}
	b.mu.Lock()
	s, ok := b.subs[sub]
	delete(b.subs, sub)
	b.mu.Unlock()

	if ok {
		_ = sub.Unsubscribe()
		s.drop(err)
	}
}

func (b *Bus) onClosed() {
	b.mu.Lock()
	all := b.subs
	b.subs = make(map[*nats.Subscription]*busSubscription)
	b.closed = true
	b.mu.Unlock()

	for _, s := range all {
		s.drop(nats.ErrConnectionClosed)
	}
}

type busSubscription struct {
	bus      *Bus
	sub      *nats.Subscription
	dropped  chan error
	dropOnce sync.Once
}

func (s *busSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	_, ok := s.bus.subs[s.sub]
	delete(s.bus.subs, s.sub)
	s.bus.mu.Unlock()

	if !ok {
		return nil
	}
	if err := s.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
		return err
	}
	return nil
}

func (s *busSubscription) Dropped() <-chan error {
	return s.dropped
}

func (s *busSubscription) drop(cause error) {
	s.dropOnce.Do(func() {
		s.dropped <- cause
		close(s.dropped)
	})
}
