package store

import (
	"context"
	"fmt"
	"os"
)

// Stats holds database statistics.
type Stats struct {
	DBPath            string              `json:"db_path"`
	DBSizeBytes       int64               `json:"db_size_bytes"`
	TotalMessages     int                 `json:"total_messages"`
	UserMessages      int                 `json:"user_messages"`
	AssistantMessages int                 `json:"assistant_messages"`
	Conversations     []ConversationStats `json:"conversations"`
}

// ConversationStats holds per-conversation counts.
type ConversationStats struct {
	Conversation string `json:"conversation"`
	Count        int    `json:"count"`
	Senders      int    `json:"senders"`
}

// Stats returns database statistics. Unlike Tally it reads the durable
// store, so it reflects what survived retention.
func (s *SQLiteStore) Stats(ctx context.Context, dbPath string) (*Stats, error) {
	st := &Stats{DBPath: dbPath}

	// DB file size
	if info, err := os.Stat(dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&st.TotalMessages); err != nil {
		return st, fmt.Errorf("count messages: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE sent_by_user = 1`).Scan(&st.UserMessages); err != nil {
		return st, fmt.Errorf("count user messages: %w", err)
	}
	st.AssistantMessages = st.TotalMessages - st.UserMessages

	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation, COUNT(*) AS cnt, COUNT(DISTINCT sender) AS senders
		FROM messages
		GROUP BY conversation ORDER BY cnt DESC`)
	if err != nil {
		return st, err
	}
	defer rows.Close()

	for rows.Next() {
		var cs ConversationStats
		if err := rows.Scan(&cs.Conversation, &cs.Count, &cs.Senders); err != nil {
			return st, err
		}
		st.Conversations = append(st.Conversations, cs)
	}

	return st, rows.Err()
}
