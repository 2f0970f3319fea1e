package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/U00A/Mental-univ-sub001/internal/model"
	"github.com/U00A/Mental-univ-sub001/internal/repository"
)

// ConversationStore 会话仓库，会话行由 MessageStore.Append 创建
type ConversationStore struct {
	db *pgxpool.Pool
}

// NewConversationStore 创建会话仓库
func NewConversationStore(db *pgxpool.Pool) *ConversationStore {
	return &ConversationStore{db: db}
}

const conversationColumns = `id, participant_a, participant_b, last_message, created_at, updated_at`

func (s *ConversationStore) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	rows, err := s.db.Query(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	convs, err := pgx.CollectRows(rows, scanConversation)
	if err != nil {
		return nil, err
	}
	if len(convs) == 0 {
		return nil, repository.ErrNotFound
	}
	return convs[0], nil
}

// ListForUser 最近更新在前
func (s *ConversationStore) ListForUser(ctx context.Context, userID string) ([]*model.Conversation, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE participant_a = $1 OR participant_b = $1
		ORDER BY updated_at DESC, id`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanConversation)
}

// CountUnread 发给 userID、未删除且尚未读的消息数
func (s *ConversationStore) CountUnread(ctx context.Context, conversationID, userID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM messages
		WHERE conversation_id = $1 AND receiver_id = $2 AND deleted_at IS NULL AND status <> $3`,
		conversationID, userID, string(model.StatusRead)).Scan(&n)
	return n, err
}

func scanConversation(row pgx.CollectableRow) (*model.Conversation, error) {
	var (
		c    model.Conversation
		last []byte
	)
	if err := row.Scan(&c.ID, &c.ParticipantIDs[0], &c.ParticipantIDs[1], &last, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if len(last) > 0 {
		c.LastMessage = &model.MessagePreview{}
		if err := json.Unmarshal(last, c.LastMessage); err != nil {
			return nil, fmt.Errorf("decode preview: %w", err)
		}
	}
	return &c, nil
}
