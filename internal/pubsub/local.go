package pubsub

import (
	"context"
	"sync"
)

// LocalBus 进程内总线，单实例部署与测试使用
type LocalBus struct {
	mu           sync.RWMutex
	subs         map[string]map[*localSubscription]struct{}
	closed       bool
	subscribeErr error
}

// NewLocalBus 创建进程内总线
func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[string]map[*localSubscription]struct{})}
}

// Publish 同步投递给当前所有订阅者
func (b *LocalBus) Publish(_ context.Context, subject string, data []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}
	for sub := range b.subs[subject] {
		sub.handler(data)
	}
	return nil
}

// Subscribe 订阅 subject
func (b *LocalBus) Subscribe(subject string, h Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	if b.subscribeErr != nil {
		return nil, b.subscribeErr
	}
	sub := &localSubscription{
		bus:     b,
		subject: subject,
		handler: h,
		dropped: make(chan error, 1),
	}
	if b.subs[subject] == nil {
		b.subs[subject] = make(map[*localSubscription]struct{})
	}
	b.subs[subject][sub] = struct{}{}
	return sub, nil
}

// Drop 模拟连接中断：移除并通知 subject 上的全部订阅
func (b *LocalBus) Drop(subject string, cause error) {
	b.mu.Lock()
	subs := b.subs[subject]
	delete(b.subs, subject)
	b.mu.Unlock()

	for sub := range subs {
		sub.drop(cause)
	}
}

// SetSubscribeError 之后的 Subscribe 调用均返回 err，传 nil 恢复
func (b *LocalBus) SetSubscribeError(err error) {
	b.mu.Lock()
	b.subscribeErr = err
	b.mu.Unlock()
}

// Subscribers 当前订阅数
func (b *LocalBus) Subscribers(subject string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[subject])
}

// Close 关闭总线，所有订阅收到 ErrClosed
func (b *LocalBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	all := b.subs
	b.subs = make(map[string]map[*localSubscription]struct{})
	b.mu.Unlock()

	for _, subs := range all {
		for sub := range subs {
			sub.drop(ErrClosed)
		}
	}
	return nil
}

type localSubscription struct {
	bus      *LocalBus
	subject  string
	handler  Handler
	dropped  chan error
	dropOnce sync.Once
}

func (s *localSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	if subs, ok := s.bus.subs[s.subject]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(s.bus.subs, s.subject)
		}
	}
	return nil
}

func (s *localSubscription) Dropped() <-chan error {
	return s.dropped
}

func (s *localSubscription) drop(cause error) {
	s.dropOnce.Do(func() {
		s.dropped <- cause
		close(s.dropped)
	})
}
