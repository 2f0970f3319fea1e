package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/U00A/Mental-univ-sub001/internal/model"
	"github.com/U00A/Mental-univ-sub001/internal/repository"
)

const messageColumns = `id, client_msg_id, conversation_id, sender_id, sender_name, receiver_id, kind, content,
	attachment, reply_to, created_at, edited_at, deleted_at, status, version`

// messageOrder 与 repository.LessMessage 一致：时间相同时较短的十进制 ID 在前
const messageOrder = `created_at, length(id), id`

// statusRank SQL 中的状态序号
const statusRank = `CASE status WHEN 'sending' THEN 1 WHEN 'sent' THEN 2 WHEN 'delivered' THEN 3 WHEN 'read' THEN 4 ELSE 0 END`

// MessageStore 消息仓库，每次写入在同一事务内刷新会话摘要
type MessageStore struct {
	db *pgxpool.Pool
}

// NewMessageStore 创建消息仓库
func NewMessageStore(db *pgxpool.Pool) *MessageStore {
	return &MessageStore{db: db}
}

// Append 写入消息；客户端 ID 或消息 ID 已存在时返回已有记录
func (s *MessageStore) Append(ctx context.Context, msg *model.Message) (*model.Message, bool, error) {
	var (
		stored  *model.Message
		created bool
	)
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if msg.ClientMsgID != "" {
			existing, err := findByClientMsgID(ctx, tx, msg.SenderID, msg.ClientMsgID)
			if err == nil {
				stored = existing
				return nil
			}
			if !errors.Is(err, repository.ErrNotFound) {
				return err
			}
		}

		ts := now()
		a, b := msg.SenderID, msg.ReceiverID
		if b < a {
			a, b = b, a
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO conversations (id, participant_a, participant_b, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $4)
			ON CONFLICT (id) DO NOTHING
		`, msg.ConversationID, a, b, ts); err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}

		attachment, err := jsonArg(msg.Attachment)
		if err != nil {
			return err
		}
		replyTo, err := jsonArg(msg.ReplyTo)
		if err != nil {
			return err
		}
		var replyToID *string
		if msg.ReplyTo != nil {
			replyToID = &msg.ReplyTo.MessageID
		}

		rows, err := tx.Query(ctx, `
			INSERT INTO messages (id, client_msg_id, conversation_id, sender_id, sender_name, receiver_id, kind, content,
				attachment, reply_to, reply_to_id, created_at, status, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1)
			ON CONFLICT DO NOTHING
			RETURNING `+messageColumns,
			msg.ID, nullable(msg.ClientMsgID), msg.ConversationID, msg.SenderID, msg.SenderName, msg.ReceiverID,
			string(msg.Kind), msg.Content, attachment, replyTo, replyToID, ts, string(model.StatusSent))
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		inserted, err := collectMessages(rows)
		if err != nil {
			return err
		}

		if len(inserted) == 0 {
			// 并发重复提交，另一事务先落库
			if msg.ClientMsgID != "" {
				stored, err = findByClientMsgID(ctx, tx, msg.SenderID, msg.ClientMsgID)
			} else {
				stored, err = findByID(ctx, tx, msg.ID, false)
			}
			return err
		}

		stored, created = inserted[0], true
		return refreshPreview(ctx, tx, msg.ConversationID)
	})
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

func (s *MessageStore) FindByID(ctx context.Context, id string) (*model.Message, error) {
	return findByID(ctx, s.db, id, false)
}

func (s *MessageStore) ListByConversation(ctx context.Context, conversationID string) ([]*model.Message, error) {
	rows, err := s.db.Query(ctx, `SELECT `+messageColumns+` FROM messages WHERE conversation_id = $1 ORDER BY `+messageOrder, conversationID)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// Update 行锁内读改写，版本号递增
func (s *MessageStore) Update(ctx context.Context, id string, fn func(*model.Message) error) (*model.Message, error) {
	var updated *model.Message
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		current, err := findByID(ctx, tx, id, true)
		if err != nil {
			return err
		}
		next := current.Clone()
		if err := fn(next); err != nil {
			return err
		}

		attachment, err := jsonArg(next.Attachment)
		if err != nil {
			return err
		}
		replyTo, err := jsonArg(next.ReplyTo)
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `
			UPDATE messages
			SET content = $2, attachment = $3, reply_to = $4, edited_at = $5, deleted_at = $6, status = $7, version = version + 1
			WHERE id = $1
			RETURNING `+messageColumns,
			id, next.Content, attachment, replyTo, next.EditedAt, next.DeletedAt, string(next.Status))
		if err != nil {
			return fmt.Errorf("update message: %w", err)
		}
		msgs, err := collectMessages(rows)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			return repository.ErrNotFound
		}
		updated = msgs[0]
		return refreshPreview(ctx, tx, updated.ConversationID)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// AdvanceStatus 单条 UPDATE 完成批量前进，状态低于目标的才会被改写
func (s *MessageStore) AdvanceStatus(ctx context.Context, conversationID, recipientID string, to model.DeliveryStatus) ([]*model.Message, error) {
	if !to.Valid() {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		UPDATE messages
		SET status = $3, version = version + 1
		WHERE conversation_id = $1 AND receiver_id = $2 AND `+statusRank+` < $4
		RETURNING `+messageColumns,
		conversationID, recipientID, string(to), to.Rank())
	if err != nil {
		return nil, fmt.Errorf("advance status: %w", err)
	}
	changed, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	repository.SortMessages(changed)
	return changed, nil
}

func (s *MessageStore) ListReplies(ctx context.Context, messageID string) ([]*model.Message, error) {
	if _, err := findByID(ctx, s.db, messageID, false); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, `SELECT `+messageColumns+` FROM messages WHERE reply_to_id = $1 ORDER BY `+messageOrder, messageID)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

func findByID(ctx context.Context, q querier, id string, forUpdate bool) (*model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, query, id)
	if err != nil {
		return nil, err
	}
	return oneMessage(rows)
}

func findByClientMsgID(ctx context.Context, q querier, senderID, clientMsgID string) (*model.Message, error) {
	rows, err := q.Query(ctx, `SELECT `+messageColumns+` FROM messages WHERE sender_id = $1 AND client_msg_id = $2`, senderID, clientMsgID)
	if err != nil {
		return nil, err
	}
	return oneMessage(rows)
}

// refreshPreview 以会话内最后一条消息重写摘要，更新时间取该消息的创建时间
func refreshPreview(ctx context.Context, q querier, conversationID string) error {
	rows, err := q.Query(ctx, `
		SELECT `+messageColumns+` FROM messages WHERE conversation_id = $1
		ORDER BY created_at DESC, length(id) DESC, id DESC LIMIT 1`, conversationID)
	if err != nil {
		return err
	}
	last, err := oneMessage(rows)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	if last == nil {
		_, err = q.Exec(ctx, `UPDATE conversations SET last_message = NULL WHERE id = $1`, conversationID)
		return err
	}
	preview, err := jsonArg(last.Preview())
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `UPDATE conversations SET last_message = $2, updated_at = $3 WHERE id = $1`, conversationID, preview, last.CreatedAt)
	return err
}

func oneMessage(rows pgx.Rows) (*model.Message, error) {
	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, repository.ErrNotFound
	}
	return msgs[0], nil
}

func collectMessages(rows pgx.Rows) ([]*model.Message, error) {
	return pgx.CollectRows(rows, scanMessage)
}

func scanMessage(row pgx.CollectableRow) (*model.Message, error) {
	var (
		m           model.Message
		clientMsgID *string
		kind        string
		status      string
		attachment  []byte
		replyTo     []byte
	)
	err := row.Scan(
		&m.ID,
		&clientMsgID,
		&m.ConversationID,
		&m.SenderID,
		&m.SenderName,
		&m.ReceiverID,
		&kind,
		&m.Content,
		&attachment,
		&replyTo,
		&m.CreatedAt,
		&m.EditedAt,
		&m.DeletedAt,
		&status,
		&m.Version,
	)
	if err != nil {
		return nil, err
	}
	if clientMsgID != nil {
		m.ClientMsgID = *clientMsgID
	}
	m.Kind = model.MessageKind(kind)
	m.Status = model.DeliveryStatus(status)
	if len(attachment) > 0 {
		m.Attachment = &model.Attachment{}
		if err := json.Unmarshal(attachment, m.Attachment); err != nil {
			return nil, fmt.Errorf("decode attachment: %w", err)
		}
	}
	if len(replyTo) > 0 {
		m.ReplyTo = &model.ReplyRef{}
		if err := json.Unmarshal(replyTo, m.ReplyTo); err != nil {
			return nil, fmt.Errorf("decode reply: %w", err)
		}
	}
	return &m, nil
}

// jsonArg nil 指针写为 NULL
func jsonArg[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
