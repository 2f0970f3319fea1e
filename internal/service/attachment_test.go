package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/U00A/Mental-univ-sub001/internal/model"
	apperrors "github.com/U00A/Mental-univ-sub001/pkg/errors"
)

// pngHeader 足以让内容嗅探识别为 image/png
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type failingStore struct{}

func (failingStore) Put(context.Context, string, io.Reader, int64, string) (string, error) {
	return "", errors.New("bucket unavailable")
}

func TestUpload_AudioDurationPersistsVerbatim(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	att, err := env.chat.Attachments.Upload(ctx, "alice", Blob{
		Reader:      bytes.NewReader([]byte("voice-bytes")),
		FileName:    "voice.webm",
		ContentType: "audio/webm",
		Duration:    "0:42",
	}, model.MessageKindAudio)
	require.NoError(t, err)
	assert.Equal(t, "0:42", att.Duration)

	msg, err := env.chat.Messages.Append(ctx, SendRequest{
		Sender:     alice,
		ReceiverID: "bob",
		Kind:       model.MessageKindAudio,
		Attachment: att,
	})
	require.NoError(t, err)

	stored, err := env.chat.Messages.Get(ctx, "bob", msg.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Attachment)
	assert.Equal(t, "0:42", stored.Attachment.Duration)
	assert.Equal(t, att.URL, stored.Attachment.URL)
	assert.Equal(t, int64(len("voice-bytes")), stored.Attachment.FileSize)
}

func TestUpload_ObjectKeyAndURL(t *testing.T) {
	env := newTestEnv(t)
	svc := env.chat.Attachments
	svc.now = func() time.Time { return time.Unix(0, 1700000000000000000) }

	att, err := svc.Upload(context.Background(), "alice", Blob{
		Reader:   bytes.NewReader([]byte("%PDF-1.4 notes")),
		FileName: "../session notes.pdf",
	}, model.MessageKindFile)
	require.NoError(t, err)

	assert.Equal(t, "http://media.test/media/chat/file/alice/1700000000000000000-session%20notes.pdf", att.URL)
	assert.Equal(t, "session notes.pdf", att.FileName)
	assert.Equal(t, "application/pdf", att.ContentType)

	obj, err := env.blobs.Get("chat/file/alice/1700000000000000000-session notes.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4 notes"), obj.Data)
}

func TestUpload_KeysNeverCollide(t *testing.T) {
	env := newTestEnv(t)
	svc := env.chat.Attachments
	svc.now = func() time.Time { return time.Unix(0, 42) }

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		att, err := svc.Upload(context.Background(), "alice", Blob{
			Reader:   strings.NewReader("same"),
			FileName: "a.txt",
		}, model.MessageKindFile)
		require.NoError(t, err)
		assert.False(t, seen[att.URL], att.URL)
		seen[att.URL] = true
	}
}

func TestUpload_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.chat.Attachments

	tests := []struct {
		name string
		blob Blob
		kind model.MessageKind
	}{
		{name: "text kind", blob: Blob{Reader: strings.NewReader("x")}, kind: model.MessageKindText},
		{name: "nil reader", blob: Blob{}, kind: model.MessageKindFile},
		{name: "empty body", blob: Blob{Reader: strings.NewReader("")}, kind: model.MessageKindFile},
		{name: "too large", blob: Blob{Reader: bytes.NewReader(make([]byte, 1<<20+1))}, kind: model.MessageKindFile},
		{name: "image that is not an image", blob: Blob{Reader: strings.NewReader("plain words")}, kind: model.MessageKindImage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			att, err := svc.Upload(ctx, "alice", tt.blob, tt.kind)
			assert.Nil(t, att)
			assert.True(t, apperrors.Is(err, apperrors.ErrValidation), "got %v", err)
		})
	}
}

func TestUpload_ImageSniffed(t *testing.T) {
	env := newTestEnv(t)
	att, err := env.chat.Attachments.Upload(context.Background(), "bob", Blob{
		Reader:   bytes.NewReader(pngHeader),
		FileName: "photo.png",
	}, model.MessageKindImage)
	require.NoError(t, err)
	assert.Equal(t, "image/png", att.ContentType)
	assert.Empty(t, att.Duration)
}

func TestUpload_StoreFailureIsUploadFailed(t *testing.T) {
	svc := NewAttachmentService(failingStore{}, 1<<20)
	att, err := svc.Upload(context.Background(), "alice", Blob{
		Reader:   strings.NewReader("data"),
		FileName: "a.txt",
	}, model.MessageKindFile)
	assert.Nil(t, att)
	assert.True(t, apperrors.Is(err, apperrors.ErrUploadFailed))
}

func TestSendAttachment_UploadFailureCreatesNoMessage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.chat.Attachments = NewAttachmentService(failingStore{}, 1<<20)

	view, err := env.chat.OpenThread(ctx, alice, "bob", ThreadHandlers{})
	require.NoError(t, err)
	defer view.Close()

	msg, err := view.SendAttachment(ctx, Blob{Reader: strings.NewReader("data"), FileName: "a.txt"}, model.MessageKindFile, "", "")
	assert.Nil(t, msg)
	assert.True(t, apperrors.Is(err, apperrors.ErrUploadFailed))

	list, err := env.chat.Messages.List(ctx, "alice_bob", "alice")
	require.NoError(t, err)
	assert.Empty(t, list)
}
