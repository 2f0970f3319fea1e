package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/U00A/Mental-univ-sub001/internal/live"
	"github.com/U00A/Mental-univ-sub001/internal/model"
	apperrors "github.com/U00A/Mental-univ-sub001/pkg/errors"
)

// ThreadHandlers 会话视图的回调，均在各自订阅的投递协程中执行
type ThreadHandlers struct {
	OnMessages     func([]*model.Message)
	OnTyping       func([]string)
	OnPeerPresence func(model.Presence)
	OnError        func(error) // 订阅中断，视图已过期
}

// ThreadView 一个打开的会话界面
// 持有消息、输入中、对方在线状态三个订阅以及可能正在进行的录音，Close 统一释放
type ThreadView struct {
	chat           *Chat
	me             model.Identity
	peerID         string
	conversationID string
	logger         *slog.Logger

	mu       sync.Mutex
	subs     []*live.Subscription
	recorder *Recorder
	voice    *Recording // 已结束但尚未发送成功的录音
	closed   bool
}

// OpenThread 打开与 peerID 的会话：订阅消息，批量标记已读，订阅输入状态与对方在线状态
func (c *Chat) OpenThread(ctx context.Context, me model.Identity, peerID string, h ThreadHandlers) (*ThreadView, error) {
	convID, err := ConversationID(me.UserID, peerID)
	if err != nil {
		return nil, err
	}
	v := &ThreadView{
		chat:           c,
		me:             me,
		peerID:         peerID,
		conversationID: convID,
		logger:         slog.Default(),
	}

	var opts []SubscribeOption
	if h.OnError != nil {
		opts = append(opts, WithErrorHandler(h.OnError))
	}

	if h.OnMessages != nil {
		sub, err := c.Messages.Subscribe(ctx, convID, me.UserID, h.OnMessages, opts...)
		if err != nil {
			v.Close()
			return nil, err
		}
		v.subs = append(v.subs, sub)
	}

	if _, err := c.Delivery.MarkRead(ctx, convID, me.UserID); err != nil {
		v.Close()
		return nil, err
	}

	if h.OnTyping != nil {
		sub, err := c.Typing.Subscribe(ctx, convID, me.UserID, h.OnTyping, opts...)
		if err != nil {
			v.Close()
			return nil, err
		}
		v.subs = append(v.subs, sub)
	}

	if h.OnPeerPresence != nil {
		sub, err := c.Presence.Subscribe(ctx, peerID, h.OnPeerPresence, opts...)
		if err != nil {
			v.Close()
			return nil, err
		}
		v.subs = append(v.subs, sub)
	}

	return v, nil
}

// ConversationID 会话 ID
func (v *ThreadView) ConversationID() string {
	return v.conversationID
}

func (v *ThreadView) request(kind model.MessageKind, content string, att *model.Attachment, replyTo string) SendRequest {
	return SendRequest{
		ConversationID: v.conversationID,
		Sender:         v.me,
		ReceiverID:     v.peerID,
		Kind:           kind,
		Content:        content,
		Attachment:     att,
		ReplyToID:      replyTo,
		ClientMsgID:    uuid.NewString(),
	}
}

func (v *ThreadView) send(ctx context.Context, req SendRequest) (*model.Message, error) {
	if err := v.checkOpen(); err != nil {
		return nil, err
	}
	msg, err := v.chat.Messages.Append(ctx, req)
	if msg != nil {
		if cerr := v.chat.Typing.Clear(ctx, v.conversationID, v.me.UserID); cerr != nil {
			v.logger.Warn("Failed to clear typing state", "conversationId", v.conversationID, "error", cerr)
		}
	}
	return msg, err
}

// SendText 发送文本
func (v *ThreadView) SendText(ctx context.Context, text, replyTo string) (*model.Message, error) {
	return v.send(ctx, v.request(model.MessageKindText, text, nil, replyTo))
}

// SendLink 发送链接
func (v *ThreadView) SendLink(ctx context.Context, link, replyTo string) (*model.Message, error) {
	return v.send(ctx, v.request(model.MessageKindLink, link, nil, replyTo))
}

// SendAttachment 上传并发送附件，上传失败时不会产生消息
func (v *ThreadView) SendAttachment(ctx context.Context, b Blob, kind model.MessageKind, caption, replyTo string) (*model.Message, error) {
	if err := v.checkOpen(); err != nil {
		return nil, err
	}
	att, err := v.chat.Attachments.Upload(ctx, v.me.UserID, b, kind)
	if err != nil {
		return nil, err
	}
	return v.send(ctx, v.request(kind, caption, att, replyTo))
}

// Typing 输入中
func (v *ThreadView) Typing(ctx context.Context) error {
	if err := v.checkOpen(); err != nil {
		return err
	}
	return v.chat.Typing.Signal(ctx, v.conversationID, v.me.UserID)
}

// StartVoice 开始录音，同一时间只允许一段
func (v *ThreadView) StartVoice(track Track, contentType string) (*Recorder, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		track.Stop()
		return nil, apperrors.ErrValidation.WithMessage("会话已关闭")
	}
	if v.recorder != nil {
		track.Stop()
		return nil, apperrors.ErrValidation.WithMessage("正在录音")
	}
	if v.voice != nil {
		track.Stop()
		return nil, apperrors.ErrValidation.WithMessage("有尚未发送的录音")
	}
	v.recorder = NewRecorder(track, contentType)
	return v.recorder, nil
}

func (v *ThreadView) takeRecorder() *Recorder {
	v.mu.Lock()
	defer v.mu.Unlock()
	r := v.recorder
	v.recorder = nil
	return r
}

// takeVoice 取出待发送的录音；录音仍在进行时先结束它
func (v *ThreadView) takeVoice() (*Recording, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if rec := v.voice; rec != nil {
		v.voice = nil
		return rec, nil
	}
	r := v.recorder
	v.recorder = nil
	if r == nil {
		return nil, apperrors.ErrValidation.WithMessage("没有正在进行的录音")
	}
	rec, err := r.Stop()
	if err != nil {
		return nil, apperrors.ErrValidation.WithMessage("录音已结束")
	}
	return rec, nil
}

// keepVoice 发送失败时保留录音，供再次 SendVoice 或 CancelVoice
func (v *ThreadView) keepVoice(rec *Recording) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.closed && v.voice == nil {
		v.voice = rec
	}
}

// SendVoice 结束录音并作为语音消息发送，时长取录音时测得的值
// 上传失败时录音保留在视图上，再次调用即重试
func (v *ThreadView) SendVoice(ctx context.Context, replyTo string) (*model.Message, error) {
	rec, err := v.takeVoice()
	if err != nil {
		return nil, err
	}
	msg, err := v.SendAttachment(ctx, rec.Blob("voice.webm"), model.MessageKindAudio, "", replyTo)
	if err != nil && msg == nil {
		v.keepVoice(rec)
	}
	return msg, err
}

// CancelVoice 放弃录音，包括发送失败后保留的录音
func (v *ThreadView) CancelVoice() {
	v.mu.Lock()
	v.voice = nil
	v.mu.Unlock()
	if r := v.takeRecorder(); r != nil {
		r.Cancel()
	}
}

// Edit 编辑消息
func (v *ThreadView) Edit(ctx context.Context, messageID, content string) (*model.Message, error) {
	return v.chat.Messages.Edit(ctx, v.me.UserID, messageID, content)
}

// Delete 软删除消息
func (v *ThreadView) Delete(ctx context.Context, messageID string) (*model.Message, error) {
	return v.chat.Messages.SoftDelete(ctx, v.me.UserID, messageID)
}

// React 切换回应
func (v *ThreadView) React(ctx context.Context, messageID, reaction string) (model.ToggleResult, error) {
	return v.chat.Reactions.Toggle(ctx, messageID, v.me.UserID, reaction)
}

// Retry 重发失败消息
func (v *ThreadView) Retry(ctx context.Context, messageID string) (*model.Message, error) {
	return v.chat.Messages.Retry(ctx, v.me.UserID, messageID)
}

// Discard 放弃失败消息
func (v *ThreadView) Discard(ctx context.Context, messageID string) error {
	return v.chat.Messages.Discard(ctx, v.me.UserID, messageID)
}

func (v *ThreadView) checkOpen() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return apperrors.ErrValidation.WithMessage("会话已关闭")
	}
	return nil
}

// Close 释放全部订阅与录音；幂等，不能在订阅回调中同步调用
func (v *ThreadView) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	subs := v.subs
	v.subs = nil
	rec := v.recorder
	v.recorder = nil
	v.voice = nil
	v.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	if rec != nil {
		if err := rec.Close(); err != nil && !errors.Is(err, ErrRecorderClosed) {
			v.logger.Warn("Failed to release recorder", "error", err)
		}
	}
}
