package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/rcliao/chat-relay/internal/clock"
	"github.com/rcliao/chat-relay/internal/model"
	"github.com/rcliao/chat-relay/internal/observability"
)

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	clock     clock.Clock
	log       *slog.Logger
	retention Retention
	tally     *Tally
	locks     *pairLocks

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy

	// writeMu orders stamping with the insert so sent_at never
	// decreases in write order, even if the clock steps back.
	writeMu    sync.Mutex
	lastSentAt time.Time
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithClock sets the clock used for ids, write timestamps, retention
// cutoffs and the tally uptime.
func WithClock(c clock.Clock) Option {
	return func(s *SQLiteStore) { s.clock = c }
}

// WithLogger sets the logger for retention failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *SQLiteStore) { s.log = l }
}

// WithRetention overrides the default retention policy.
func WithRetention(r Retention) Option {
	return func(s *SQLiteStore) { s.retention = r }
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// sqlite has a single writer; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:        db,
		clock:     clock.Real(),
		log:       observability.Logger(),
		retention: DefaultRetention(),
		locks:     newPairLocks(),
		entropy:   ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.tally = NewTally(s.clock)

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) newID() string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(s.clock.Now()), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		seq          INTEGER PRIMARY KEY AUTOINCREMENT,
		id           TEXT NOT NULL UNIQUE,
		content      TEXT NOT NULL,
		sender       TEXT NOT NULL,
		conversation TEXT NOT NULL,
		scope        TEXT,
		sent_at      TEXT NOT NULL,
		sent_by_user INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation, seq);
	CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender, conversation, seq);
	CREATE INDEX IF NOT EXISTS idx_messages_sent_at ON messages(sent_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Tally returns the running statistics updated by Append.
func (s *SQLiteStore) Tally() *Tally {
	return s.tally
}

func (s *SQLiteStore) Append(ctx context.Context, msg model.Message) (*model.Message, error) {
	msg.SentAt = time.Time{}
	return s.append(ctx, msg)
}

// append inserts msg and applies retention. A zero msg.SentAt is stamped
// with the write time; a set one is kept as is, which only Import does.
func (s *SQLiteStore) append(ctx context.Context, msg model.Message) (*model.Message, error) {
	if msg.Conversation == "" {
		return nil, fmt.Errorf("append: conversation is required")
	}
	if msg.Sender == "" {
		return nil, fmt.Errorf("append: sender is required")
	}

	stored, err := s.insert(ctx, msg)
	if err != nil {
		return nil, err
	}

	removed, err := s.EnforceRetention(ctx, msg.Sender, msg.Conversation)
	if err != nil {
		s.log.Warn("retention enforcement failed",
			"sender", msg.Sender,
			"conversation", msg.Conversation,
			"removed", removed,
			"error", err)
	} else if removed > 0 {
		s.log.Debug("retention removed messages",
			"sender", msg.Sender,
			"conversation", msg.Conversation,
			"removed", removed)
	}

	if stored.SentByUser {
		s.tally.Record(stored)
	}

	return &stored, nil
}

func (s *SQLiteStore) insert(ctx context.Context, msg model.Message) (model.Message, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	sentAt := msg.SentAt
	stamped := sentAt.IsZero()
	if stamped {
		sentAt = s.clock.Now()
		if sentAt.Before(s.lastSentAt) {
			sentAt = s.lastSentAt
		}
	}
	sentAt = sentAt.UTC()

	var scope *string
	if msg.Scope != "" {
		scope = &msg.Scope
	}

	id := s.newID()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, content, sender, conversation, scope, sent_at, sent_by_user)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, msg.Content, msg.Sender, msg.Conversation, scope, sentAt.Format(timeLayout), msg.SentByUser)
	if err != nil {
		return model.Message{}, fmt.Errorf("insert message: %w", err)
	}
	if stamped {
		s.lastSentAt = sentAt
	}

	msg.ID = id
	msg.SentAt = sentAt
	return msg, nil
}

func (s *SQLiteStore) ReadConversation(ctx context.Context, conversation string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, sender, conversation, scope, sent_at, sent_by_user FROM (
			SELECT seq, id, content, sender, conversation, scope, sent_at, sent_by_user
			FROM messages WHERE conversation = ?
			ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`, conversation, limit)
	if err != nil {
		return nil, fmt.Errorf("read conversation: %w", err)
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

// Clear deletes every transcript record.
func (s *SQLiteStore) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages`)
	if err != nil {
		return 0, fmt.Errorf("clear messages: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row scanner) (model.Message, error) {
	var m model.Message
	var scope sql.NullString
	var sentAt string

	err := row.Scan(&m.ID, &m.Content, &m.Sender, &m.Conversation, &scope, &sentAt, &m.SentByUser)
	if err != nil {
		return m, err
	}

	m.SentAt, err = time.Parse(timeLayout, sentAt)
	if err != nil {
		return m, fmt.Errorf("parse sent_at of %s: %w", m.ID, err)
	}
	if scope.Valid {
		m.Scope = scope.String
	}
	return m, nil
}
