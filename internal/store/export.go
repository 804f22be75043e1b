package store

import (
	"context"
	"strings"

	"github.com/rcliao/chat-relay/internal/model"
)

// ExportAll returns every record in write order, optionally filtered by conversation.
func (s *SQLiteStore) ExportAll(ctx context.Context, conversation string) ([]model.Message, error) {
	where := []string{"1 = 1"}
	args := []interface{}{}

	if conversation != "" {
		where = append(where, "conversation = ?")
		args = append(args, conversation)
	}

	query := `SELECT id, content, sender, conversation, scope, sent_at, sent_by_user
	          FROM messages WHERE ` + strings.Join(where, " AND ") + ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// Import appends messages from an export in the given order. Ids are
// reassigned; original timestamps are kept, so retention applies to them
// as it would have originally. Records without a timestamp get the
// write time.
func (s *SQLiteStore) Import(ctx context.Context, messages []model.Message) (int, error) {
	imported := 0
	for _, m := range messages {
		m.ID = ""
		if _, err := s.append(ctx, m); err != nil {
			return imported, err
		}
		imported++
	}
	return imported, nil
}
