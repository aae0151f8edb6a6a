package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/casacultural/livechat/internal/chat"
)

const messagesTable = "chat_messages"

// messageRow mirrors a chat_messages row.
type messageRow struct {
	ID          int64     `db:"id"`
	StreamID    string    `db:"stream_id"`
	AuthorName  string    `db:"author_name"`
	AuthorEmail string    `db:"author_email"`
	Role        string    `db:"role"`
	Text        string    `db:"text"`
	Timestamp   string    `db:"timestamp"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r messageRow) toMessage() chat.Message {
	return chat.Message{
		ID:        r.ID,
		StreamID:  r.StreamID,
		Author:    chat.Author{Name: r.AuthorName, Email: r.AuthorEmail},
		Role:      chat.ParseRole(r.Role),
		Text:      r.Text,
		Timestamp: r.Timestamp,
		CreatedAt: r.CreatedAt,
	}
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: postgres connection failed: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// PostgresStore persists chat messages in PostgreSQL. The auto-increment id
// column provides insertion order.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a message store backed by the given database handle.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Append inserts msg and returns it with the database assigned id and
// creation time.
func (s *PostgresStore) Append(ctx context.Context, msg chat.Message) (chat.Message, error) {
	if err := validate(msg); err != nil {
		return chat.Message{}, err
	}
	if msg.Role == "" {
		msg.Role = chat.RoleOrdinary
	}
	if msg.Timestamp == "" {
		msg.Timestamp = chat.FormatTimestamp(time.Now())
	}

	query, args, err := sq.Insert(messagesTable).
		Columns("stream_id", "author_name", "author_email", "role", "text", "timestamp").
		Values(msg.StreamID, msg.Author.Name, msg.Author.Email, string(msg.Role), msg.Text, msg.Timestamp).
		Suffix("RETURNING id, created_at").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return chat.Message{}, fmt.Errorf("store: build insert: %w", err)
	}

	if err := s.db.QueryRowxContext(ctx, query, args...).Scan(&msg.ID, &msg.CreatedAt); err != nil {
		return chat.Message{}, fmt.Errorf("store: insert message: %w", err)
	}
	return msg, nil
}

// List returns the most recent limit messages, oldest first.
func (s *PostgresStore) List(ctx context.Context, streamID string, limit int) ([]chat.Message, error) {
	query, args, err := sq.Select("id", "stream_id", "author_name", "author_email", "role", "text", "timestamp", "created_at").
		From(messagesTable).
		Where(sq.Eq{"stream_id": streamID}).
		OrderBy("id DESC").
		Limit(uint64(normalizeLimit(limit))).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("store: build select: %w", err)
	}

	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}

	// Rows come newest first; flip them into chronological order.
	out := make([]chat.Message, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = r.toMessage()
	}
	return out, nil
}

// Clear deletes every message of the stream.
func (s *PostgresStore) Clear(ctx context.Context, streamID string) (int, error) {
	query, args, err := sq.Delete(messagesTable).
		Where(sq.Eq{"stream_id": streamID}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("store: build delete: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("store: clear stream: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: clear rows affected: %w", err)
	}
	return int(n), nil
}

// LastSeen finds the newest author of the stream whose name matches.
func (s *PostgresStore) LastSeen(ctx context.Context, streamID, name string) (chat.Author, bool, error) {
	query, args, err := sq.Select("author_name", "author_email").
		From(messagesTable).
		Where(sq.Eq{"stream_id": streamID}).
		Where(sq.Expr("lower(trim(author_name)) = ?", chat.NormalizeName(name))).
		OrderBy("id DESC").
		Limit(1).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return chat.Author{}, false, fmt.Errorf("store: build last seen: %w", err)
	}

	var a chat.Author
	err = s.db.QueryRowxContext(ctx, query, args...).Scan(&a.Name, &a.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Author{}, false, nil
	}
	if err != nil {
		return chat.Author{}, false, fmt.Errorf("store: last seen: %w", err)
	}
	return a, true, nil
}
