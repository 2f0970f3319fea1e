package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/U00A/Mental-univ-sub001/internal/blob"
	"github.com/U00A/Mental-univ-sub001/internal/middleware"
	"github.com/U00A/Mental-univ-sub001/internal/model"
	"github.com/U00A/Mental-univ-sub001/internal/pubsub"
	"github.com/U00A/Mental-univ-sub001/internal/repository/memory"
	"github.com/U00A/Mental-univ-sub001/internal/service"
	"github.com/U00A/Mental-univ-sub001/pkg/response"
	"github.com/U00A/Mental-univ-sub001/pkg/snowflake"
)

// APIResponse 用于解析响应体
type APIResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type switchableMessages struct {
	*memory.MessageStore
	fail atomic.Bool
}

func (s *switchableMessages) Append(ctx context.Context, msg *model.Message) (*model.Message, bool, error) {
	if s.fail.Load() {
		return nil, false, errors.New("disk full")
	}
	return s.MessageStore.Append(ctx, msg)
}

type testServer struct {
	router   *gin.Engine
	messages *switchableMessages
}

// setupTestRouter 以内存存储组装全部路由，X-Test-User 头充当登录用户
func setupTestRouter(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := &switchableMessages{MessageStore: memory.NewMessageStore()}
	blobs, err := blob.OpenPebbleMem("http://media.test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = blobs.Close() })

	chat := service.New(service.Deps{
		Messages:      store,
		Conversations: store.Conversations(),
		Reactions:     memory.NewReactionStore(),
		Presence:      memory.NewPresenceStore(),
		Typing:        memory.NewTypingStore(),
		Bus:           pubsub.NewLocalBus(),
		Blobs:         blobs,
		IDs:           snowflake.NewNode(1),
	}, service.Options{
		TypingTTL:         time.Minute,
		TypingMinInterval: time.Millisecond,
		MaxUploadBytes:    1 << 20,
	})

	conversations := NewConversationHandler(chat.Conversations, chat.Delivery)
	messages := NewMessageHandler(chat.Messages, chat.Delivery)
	reactions := NewReactionHandler(chat.Reactions)
	typing := NewTypingHandler(chat.Typing)
	presence := NewPresenceHandler(chat.Presence)
	attachments := NewAttachmentHandler(chat.Attachments)
	media := NewMediaHandler(blobs)

	r := gin.New()
	r.GET("/media/*key", media.Serve)

	api := r.Group("/api/v1")
	api.Use(func(c *gin.Context) {
		if id := c.GetHeader("X-Test-User"); id != "" {
			middleware.SetIdentity(c, model.Identity{UserID: id, DisplayName: id})
		}
		c.Next()
	})
	api.POST("/conversations", conversations.Open)
	api.GET("/conversations", conversations.List)
	api.GET("/conversations/unread", conversations.Unread)
	api.GET("/conversations/:id", conversations.Get)
	api.POST("/conversations/:id/read", conversations.MarkRead)
	api.POST("/conversations/:id/delivered", conversations.MarkDelivered)
	api.GET("/conversations/:id/messages", messages.List)
	api.POST("/conversations/:id/messages", messages.Send)
	api.POST("/conversations/:id/typing", typing.Signal)
	api.DELETE("/conversations/:id/typing", typing.Clear)
	api.GET("/conversations/:id/typing", typing.Active)
	api.GET("/messages/:id", messages.Get)
	api.PUT("/messages/:id", messages.Edit)
	api.DELETE("/messages/:id", messages.Delete)
	api.GET("/messages/:id/replies", messages.Replies)
	api.POST("/messages/:id/retry", messages.Retry)
	api.DELETE("/messages/:id/pending", messages.Discard)
	api.POST("/messages/:id/ack", messages.Acknowledge)
	api.POST("/messages/:id/reactions", reactions.Toggle)
	api.GET("/messages/:id/reactions", reactions.Summary)
	api.GET("/presence/:userId", presence.Get)
	api.POST("/presence/online", presence.Online)
	api.POST("/presence/offline", presence.Offline)
	api.POST("/attachments", attachments.Upload)

	return &testServer{router: r, messages: store}
}

func (s *testServer) do(t *testing.T, user, method, path string, body any) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp APIResponse
	if w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func (s *testServer) send(t *testing.T, from, conversationID, text string) model.Message {
	t.Helper()
	_, resp := s.do(t, from, http.MethodPost, "/api/v1/conversations/"+conversationID+"/messages", gin.H{"content": text})
	require.Equal(t, response.CodeSuccess, resp.Code, resp.Message)
	return decode[model.Message](t, resp.Data)
}

func TestConversationHandler_Open(t *testing.T) {
	s := setupTestRouter(t)

	w, resp := s.do(t, "bob", http.MethodPost, "/api/v1/conversations", gin.H{"peerId": "alice"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, response.CodeSuccess, resp.Code)
	assert.Equal(t, "alice_bob", decode[map[string]string](t, resp.Data)["conversationId"])

	_, resp = s.do(t, "bob", http.MethodPost, "/api/v1/conversations", gin.H{"peerId": "bob"})
	assert.Equal(t, response.CodeValidation, resp.Code)

	_, resp = s.do(t, "bob", http.MethodPost, "/api/v1/conversations", gin.H{})
	assert.Equal(t, response.CodeValidation, resp.Code)
}

func TestMessageHandler_SendListRead(t *testing.T) {
	s := setupTestRouter(t)

	first := s.send(t, "alice", "alice_bob", "hi, is now a good time?")
	assert.Equal(t, model.StatusSent, first.Status)
	assert.Equal(t, "bob", first.ReceiverID)
	assert.Equal(t, model.MessageKindText, first.Kind)

	_, resp := s.do(t, "bob", http.MethodPost, "/api/v1/conversations/alice_bob/messages", gin.H{
		"content":   "yes",
		"replyToId": first.ID,
	})
	require.Equal(t, response.CodeSuccess, resp.Code)
	reply := decode[model.Message](t, resp.Data)
	require.NotNil(t, reply.ReplyTo)
	assert.Equal(t, first.ID, reply.ReplyTo.MessageID)

	_, resp = s.do(t, "alice", http.MethodGet, "/api/v1/conversations/alice_bob/messages", nil)
	require.Equal(t, response.CodeSuccess, resp.Code)
	list := decode[struct {
		List []model.Message `json:"list"`
	}](t, resp.Data).List
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, reply.ID, list[1].ID)

	_, resp = s.do(t, "alice", http.MethodGet, "/api/v1/messages/"+first.ID+"/replies", nil)
	require.Equal(t, response.CodeSuccess, resp.Code)
	assert.Contains(t, string(resp.Data), reply.ID)

	_, resp = s.do(t, "bob", http.MethodGet, "/api/v1/conversations/unread", nil)
	assert.JSONEq(t, `{"unread":1}`, string(resp.Data))

	_, resp = s.do(t, "bob", http.MethodPost, "/api/v1/conversations/alice_bob/read", nil)
	require.Equal(t, response.CodeSuccess, resp.Code)
	assert.JSONEq(t, `{"updated":1}`, string(resp.Data))

	_, resp = s.do(t, "bob", http.MethodGet, "/api/v1/conversations/unread", nil)
	assert.JSONEq(t, `{"unread":0}`, string(resp.Data))

	_, resp = s.do(t, "alice", http.MethodGet, "/api/v1/messages/"+first.ID, nil)
	assert.Equal(t, model.StatusRead, decode[model.Message](t, resp.Data).Status)

	_, resp = s.do(t, "bob", http.MethodGet, "/api/v1/conversations", nil)
	convs := decode[struct {
		List []model.ConversationSummary `json:"list"`
	}](t, resp.Data).List
	require.Len(t, convs, 1)
	assert.Equal(t, "alice_bob", convs[0].ID)
}

func TestMessageHandler_NonParticipantForbidden(t *testing.T) {
	s := setupTestRouter(t)
	msg := s.send(t, "alice", "alice_bob", "private")

	_, resp := s.do(t, "mallory", http.MethodGet, "/api/v1/conversations/alice_bob/messages", nil)
	assert.Equal(t, response.CodeForbidden, resp.Code)

	_, resp = s.do(t, "mallory", http.MethodPost, "/api/v1/conversations/alice_bob/messages", gin.H{"content": "hey"})
	assert.Equal(t, response.CodeForbidden, resp.Code)

	_, resp = s.do(t, "mallory", http.MethodGet, "/api/v1/messages/"+msg.ID, nil)
	assert.Equal(t, response.CodeForbidden, resp.Code)

	_, resp = s.do(t, "alice", http.MethodGet, "/api/v1/conversations/not-a-conversation/messages", nil)
	assert.Equal(t, response.CodeValidation, resp.Code)
}

func TestMessageHandler_SendFailureRetry(t *testing.T) {
	s := setupTestRouter(t)
	s.messages.fail.Store(true)

	_, resp := s.do(t, "alice", http.MethodPost, "/api/v1/conversations/alice_bob/messages", gin.H{"content": "did this go through?"})
	assert.Equal(t, response.CodeWriteFailed, resp.Code)
	failed := decode[model.Message](t, resp.Data)
	assert.Equal(t, model.StatusSending, failed.Status)
	assert.True(t, failed.Pending)
	assert.NotEmpty(t, failed.SendError)

	_, resp = s.do(t, "alice", http.MethodGet, "/api/v1/conversations/alice_bob/messages", nil)
	assert.Contains(t, string(resp.Data), failed.ID)

	// 对方看不到未落库的消息
	_, resp = s.do(t, "bob", http.MethodGet, "/api/v1/conversations/alice_bob/messages", nil)
	assert.NotContains(t, string(resp.Data), failed.ID)

	_, resp = s.do(t, "bob", http.MethodPost, "/api/v1/messages/"+failed.ID+"/retry", nil)
	assert.Equal(t, response.CodeForbidden, resp.Code)

	s.messages.fail.Store(false)
	_, resp = s.do(t, "alice", http.MethodPost, "/api/v1/messages/"+failed.ID+"/retry", nil)
	require.Equal(t, response.CodeSuccess, resp.Code)
	sent := decode[model.Message](t, resp.Data)
	assert.Equal(t, failed.ID, sent.ID)
	assert.Equal(t, model.StatusSent, sent.Status)

	_, resp = s.do(t, "alice", http.MethodDelete, "/api/v1/messages/"+failed.ID+"/pending", nil)
	assert.Equal(t, response.CodeNotFound, resp.Code)
}

func TestMessageHandler_Discard(t *testing.T) {
	s := setupTestRouter(t)
	s.messages.fail.Store(true)

	_, resp := s.do(t, "alice", http.MethodPost, "/api/v1/conversations/alice_bob/messages", gin.H{"content": "draft"})
	failed := decode[model.Message](t, resp.Data)

	_, resp = s.do(t, "alice", http.MethodDelete, "/api/v1/messages/"+failed.ID+"/pending", nil)
	assert.Equal(t, response.CodeSuccess, resp.Code)

	_, resp = s.do(t, "alice", http.MethodGet, "/api/v1/conversations/alice_bob/messages", nil)
	assert.NotContains(t, string(resp.Data), failed.ID)
}

func TestMessageHandler_EditDelete(t *testing.T) {
	s := setupTestRouter(t)
	msg := s.send(t, "alice", "alice_bob", "see you at 3")

	_, resp := s.do(t, "bob", http.MethodPut, "/api/v1/messages/"+msg.ID, gin.H{"content": "hijack"})
	assert.Equal(t, response.CodeForbidden, resp.Code)

	_, resp = s.do(t, "alice", http.MethodPut, "/api/v1/messages/"+msg.ID, gin.H{"content": "see you at 4"})
	require.Equal(t, response.CodeSuccess, resp.Code)
	edited := decode[model.Message](t, resp.Data)
	assert.Equal(t, "see you at 4", edited.Content)
	assert.NotNil(t, edited.EditedAt)

	_, resp = s.do(t, "alice", http.MethodDelete, "/api/v1/messages/"+msg.ID, nil)
	require.Equal(t, response.CodeSuccess, resp.Code)
	deleted := decode[model.Message](t, resp.Data)
	assert.NotNil(t, deleted.DeletedAt)
	assert.Empty(t, deleted.Content)

	_, resp = s.do(t, "alice", http.MethodPut, "/api/v1/messages/"+msg.ID, gin.H{"content": "back"})
	assert.Equal(t, response.CodeValidation, resp.Code)

	_, resp = s.do(t, "alice", http.MethodGet, "/api/v1/messages/missing", nil)
	assert.Equal(t, response.CodeNotFound, resp.Code)
}

func TestMessageHandler_Acknowledge(t *testing.T) {
	s := setupTestRouter(t)
	msg := s.send(t, "alice", "alice_bob", "ping")

	_, resp := s.do(t, "alice", http.MethodPost, "/api/v1/messages/"+msg.ID+"/ack", gin.H{"status": "read"})
	assert.Equal(t, response.CodeForbidden, resp.Code)

	_, resp = s.do(t, "bob", http.MethodPost, "/api/v1/messages/"+msg.ID+"/ack", gin.H{"status": "read"})
	require.Equal(t, response.CodeSuccess, resp.Code)
	assert.Equal(t, model.StatusRead, decode[model.Message](t, resp.Data).Status)

	// 迟到的 delivered 不会让状态后退
	_, resp = s.do(t, "bob", http.MethodPost, "/api/v1/messages/"+msg.ID+"/ack", gin.H{"status": "delivered"})
	require.Equal(t, response.CodeSuccess, resp.Code)
	assert.Equal(t, model.StatusRead, decode[model.Message](t, resp.Data).Status)

	_, resp = s.do(t, "bob", http.MethodPost, "/api/v1/messages/"+msg.ID+"/ack", gin.H{"status": "sent"})
	require.Equal(t, response.CodeSuccess, resp.Code)
	assert.Equal(t, model.StatusRead, decode[model.Message](t, resp.Data).Status)

	_, resp = s.do(t, "bob", http.MethodPost, "/api/v1/messages/"+msg.ID+"/ack", gin.H{"status": "sending"})
	assert.Equal(t, response.CodeValidation, resp.Code)
}

func TestReactionHandler(t *testing.T) {
	s := setupTestRouter(t)
	msg := s.send(t, "alice", "alice_bob", "I passed the exam")

	_, resp := s.do(t, "bob", http.MethodPost, "/api/v1/messages/"+msg.ID+"/reactions", gin.H{"reaction": "love"})
	require.Equal(t, response.CodeSuccess, resp.Code)
	assert.JSONEq(t, `{"previous":"","current":"love","summary":{"messageId":"`+msg.ID+`","counts":{"love":1},"mine":"love"}}`, string(resp.Data))

	_, resp = s.do(t, "alice", http.MethodPost, "/api/v1/messages/"+msg.ID+"/reactions", gin.H{"reaction": "party"})
	assert.Equal(t, response.CodeValidation, resp.Code)

	_, resp = s.do(t, "alice", http.MethodGet, "/api/v1/messages/"+msg.ID+"/reactions", nil)
	require.Equal(t, response.CodeSuccess, resp.Code)
	assert.JSONEq(t, `{"messageId":"`+msg.ID+`","counts":{"love":1}}`, string(resp.Data))

	_, resp = s.do(t, "mallory", http.MethodGet, "/api/v1/messages/"+msg.ID+"/reactions", nil)
	assert.Equal(t, response.CodeForbidden, resp.Code)
}

func TestTypingHandler(t *testing.T) {
	s := setupTestRouter(t)

	_, resp := s.do(t, "alice", http.MethodPost, "/api/v1/conversations/alice_bob/typing", nil)
	require.Equal(t, response.CodeSuccess, resp.Code)

	_, resp = s.do(t, "bob", http.MethodGet, "/api/v1/conversations/alice_bob/typing", nil)
	assert.JSONEq(t, `{"users":["alice"]}`, string(resp.Data))

	_, resp = s.do(t, "alice", http.MethodGet, "/api/v1/conversations/alice_bob/typing", nil)
	assert.JSONEq(t, `{"users":[]}`, string(resp.Data))

	_, resp = s.do(t, "alice", http.MethodDelete, "/api/v1/conversations/alice_bob/typing", nil)
	require.Equal(t, response.CodeSuccess, resp.Code)
	_, resp = s.do(t, "bob", http.MethodGet, "/api/v1/conversations/alice_bob/typing", nil)
	assert.JSONEq(t, `{"users":[]}`, string(resp.Data))

	_, resp = s.do(t, "mallory", http.MethodPost, "/api/v1/conversations/alice_bob/typing", nil)
	assert.Equal(t, response.CodeForbidden, resp.Code)
}

func TestPresenceHandler(t *testing.T) {
	s := setupTestRouter(t)

	_, resp := s.do(t, "alice", http.MethodGet, "/api/v1/presence/bob", nil)
	require.Equal(t, response.CodeSuccess, resp.Code)
	assert.JSONEq(t, `{"userId":"bob","isOnline":false,"lastSeen":null,"label":"Offline"}`, string(resp.Data))

	_, resp = s.do(t, "bob", http.MethodPost, "/api/v1/presence/online", nil)
	require.Equal(t, response.CodeSuccess, resp.Code)

	_, resp = s.do(t, "alice", http.MethodGet, "/api/v1/presence/bob", nil)
	p := decode[map[string]any](t, resp.Data)
	assert.Equal(t, true, p["isOnline"])
	assert.Equal(t, "Active now", p["label"])

	_, resp = s.do(t, "bob", http.MethodPost, "/api/v1/presence/offline", nil)
	require.Equal(t, response.CodeSuccess, resp.Code)

	_, resp = s.do(t, "alice", http.MethodGet, "/api/v1/presence/bob", nil)
	p = decode[map[string]any](t, resp.Data)
	assert.Equal(t, false, p["isOnline"])
	assert.Equal(t, "Last seen just now", p["label"])
	assert.NotNil(t, p["lastSeen"])
}

func TestFormatPresence(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		p    model.Presence
		want string
	}{
		{"online", model.Presence{IsOnline: true, LastSeen: now.Add(-time.Hour)}, "Active now"},
		{"never seen", model.Presence{}, "Offline"},
		{"seconds", model.Presence{LastSeen: now.Add(-30 * time.Second)}, "Last seen just now"},
		{"one minute", model.Presence{LastSeen: now.Add(-time.Minute)}, "Last seen 1 minute ago"},
		{"minutes", model.Presence{LastSeen: now.Add(-5 * time.Minute)}, "Last seen 5 minutes ago"},
		{"hours", model.Presence{LastSeen: now.Add(-3 * time.Hour)}, "Last seen 3 hours ago"},
		{"one day", model.Presence{LastSeen: now.Add(-25 * time.Hour)}, "Last seen 1 day ago"},
		{"old", model.Presence{LastSeen: time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)}, "Last seen Jan 2"},
		{"clock skew", model.Presence{LastSeen: now.Add(time.Minute)}, "Last seen just now"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatPresence(tt.p, now))
		})
	}
}

func TestAttachmentHandler_UploadAndServe(t *testing.T) {
	s := setupTestRouter(t)
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("kind", "image"))
	part, err := mw.CreateFormFile("file", "mood chart.png")
	require.NoError(t, err)
	_, err = part.Write(png)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/attachments", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Test-User", "alice")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, response.CodeSuccess, resp.Code, resp.Message)
	att := decode[model.Attachment](t, resp.Data)
	assert.Equal(t, "image/png", att.ContentType)
	assert.EqualValues(t, len(png), att.FileSize)
	assert.Equal(t, "mood chart.png", att.FileName)

	_, resp = s.do(t, "alice", http.MethodPost, "/api/v1/conversations/alice_bob/messages", gin.H{
		"kind":       "image",
		"attachment": att,
	})
	require.Equal(t, response.CodeSuccess, resp.Code)
	assert.Equal(t, att.URL, decode[model.Message](t, resp.Data).Attachment.URL)

	u, err := url.Parse(att.URL)
	require.NoError(t, err)
	get := httptest.NewRequest(http.MethodGet, u.EscapedPath(), nil)
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, get)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, png, w.Body.Bytes())

	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/media/chat/image/alice/nope.png", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAttachmentHandler_MissingFile(t *testing.T) {
	s := setupTestRouter(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("kind", "file"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/attachments", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Test-User", "alice")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, response.CodeValidation, resp.Code)
}
