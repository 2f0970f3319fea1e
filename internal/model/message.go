package model

import (
	"strings"
	"time"
	"unicode/utf8"
)

// MessageKind 消息类型
type MessageKind string

const (
	MessageKindText  MessageKind = "text"
	MessageKindImage MessageKind = "image"
	MessageKindFile  MessageKind = "file"
	MessageKindAudio MessageKind = "audio"
	MessageKindLink  MessageKind = "link"
)

// Valid 是否为已知类型
func (k MessageKind) Valid() bool {
	switch k {
	case MessageKindText, MessageKindImage, MessageKindFile, MessageKindAudio, MessageKindLink:
		return true
	}
	return false
}

// RequiresAttachment 图片、文件、语音消息必须携带附件
func (k MessageKind) RequiresAttachment() bool {
	return k == MessageKindImage || k == MessageKindFile || k == MessageKindAudio
}

// Placeholder 附件类消息在摘要中的占位文本
func (k MessageKind) Placeholder() string {
	switch k {
	case MessageKindImage:
		return "[Image]"
	case MessageKindFile:
		return "[File]"
	case MessageKindAudio:
		return "[Voice message]"
	}
	return ""
}

// Attachment 附件元数据
type Attachment struct {
	URL         string `json:"url"`
	FileName    string `json:"fileName,omitempty"`
	FileSize    int64  `json:"fileSize,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Duration    string `json:"duration,omitempty"` // 语音时长，录音时给出，格式 m:ss
}

// ReplyRef 被回复消息的冗余摘要
type ReplyRef struct {
	MessageID  string      `json:"messageId"`
	SenderID   string      `json:"senderId"`
	SenderName string      `json:"senderName"`
	Snippet    string      `json:"snippet"`
	Kind       MessageKind `json:"kind"`
}

// Message 会话中的一条消息
type Message struct {
	ID             string         `json:"id" db:"id"`
	ClientMsgID    string         `json:"clientMsgId,omitempty" db:"client_msg_id"`
	ConversationID string         `json:"conversationId" db:"conversation_id"`
	SenderID       string         `json:"senderId" db:"sender_id"`
	SenderName     string         `json:"senderName" db:"sender_name"`
	ReceiverID     string         `json:"receiverId" db:"receiver_id"`
	Kind           MessageKind    `json:"kind" db:"kind"`
	Content        string         `json:"content" db:"content"`
	Attachment     *Attachment    `json:"attachment,omitempty" db:"attachment"`
	ReplyTo        *ReplyRef      `json:"replyTo,omitempty" db:"reply_to"`
	CreatedAt      time.Time      `json:"createdAt" db:"created_at"`
	EditedAt       *time.Time     `json:"editedAt,omitempty" db:"edited_at"`
	DeletedAt      *time.Time     `json:"deletedAt,omitempty" db:"deleted_at"`
	Status         DeliveryStatus `json:"status,omitempty" db:"status"`
	Version        int64          `json:"version" db:"version"`

	// 仅存在于发送方本地回显
	Pending   bool   `json:"pending,omitempty" db:"-"`
	SendError string `json:"sendError,omitempty" db:"-"`
}

// IsDeleted 是否已软删除
func (m *Message) IsDeleted() bool {
	return m.DeletedAt != nil
}

// Clone 深拷贝，订阅回调拿到的都是副本
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.Attachment != nil {
		a := *m.Attachment
		c.Attachment = &a
	}
	if m.ReplyTo != nil {
		r := *m.ReplyTo
		c.ReplyTo = &r
	}
	if m.EditedAt != nil {
		t := *m.EditedAt
		c.EditedAt = &t
	}
	if m.DeletedAt != nil {
		t := *m.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

// Preview 生成会话列表摘要
func (m *Message) Preview() *MessagePreview {
	p := &MessagePreview{
		MessageID: m.ID,
		SenderID:  m.SenderID,
		Kind:      m.Kind,
		CreatedAt: m.CreatedAt,
		Deleted:   m.IsDeleted(),
	}
	if !p.Deleted {
		p.Content = m.Content
		if p.Content == "" {
			p.Content = m.Kind.Placeholder()
		}
	}
	return p
}

// SnippetMaxRunes 回复摘要最大长度
const SnippetMaxRunes = 80

// Snippet 截断后的文本摘要，附件消息无正文时返回占位文本
func (m *Message) Snippet() string {
	text := strings.TrimSpace(m.Content)
	if text == "" {
		return m.Kind.Placeholder()
	}
	if utf8.RuneCountInString(text) <= SnippetMaxRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:SnippetMaxRunes]) + "…"
}

// ReplyRef 以当前消息为目标构造回复引用
func (m *Message) ReplyRef() *ReplyRef {
	return &ReplyRef{
		MessageID:  m.ID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Snippet:    m.Snippet(),
		Kind:       m.Kind,
	}
}
