package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

type SQLite struct {
	db *sqlx.DB
}

func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	trimmed := strings.TrimSpace(path)
	inMemory := false
	if trimmed == "" {
		trimmed = ":memory:"
		inMemory = true
	}
	if strings.Contains(trimmed, "mode=memory") || trimmed == ":memory:" || trimmed == "file::memory:" {
		inMemory = true
	}
	db, err := sqlx.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if !inMemory {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS messages (
            id TEXT PRIMARY KEY,
            owner TEXT NOT NULL,
            folder TEXT NOT NULL,
            sender TEXT NOT NULL,
            recipient TEXT NOT NULL,
            subject TEXT NOT NULL,
            content TEXT NOT NULL,
            is_read INTEGER NOT NULL DEFAULT 0,
            starred INTEGER NOT NULL DEFAULT 0,
            created_at INTEGER NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_messages_owner_folder_created ON messages(owner, folder, created_at, id);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_owner_starred_created ON messages(owner, starred, created_at, id);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_owner_folder_read ON messages(owner, folder, is_read);`,
	}

	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (s *SQLite) InsertMessages(ctx context.Context, messages ...Message) ([]Message, error) {
	prepared, err := prepareInsert(messages, time.Now())
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, message := range prepared {
		_, err = tx.ExecContext(ctx, `INSERT INTO messages (`+messageColumns+`)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
			message.ID,
			message.Owner,
			string(message.Folder),
			message.From,
			message.To,
			message.Subject,
			message.Content,
			message.Read,
			message.Starred,
			message.Timestamp.UnixNano(),
		)
		if err != nil {
			return nil, fmt.Errorf("insert message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit messages: %w", err)
	}
	return prepared, nil
}

func (s *SQLite) List(ctx context.Context, query Query) ([]Message, error) {
	statement, args := listSQL(questionMark, query)
	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, statement, args...); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	messages := make([]Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, row.message())
	}
	return messages, nil
}

func (s *SQLite) Count(ctx context.Context, filter Filter) (int, error) {
	statement, args := countSQL(questionMark, filter)
	var count int
	if err := s.db.GetContext(ctx, &count, statement, args...); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

func (s *SQLite) Get(ctx context.Context, owner, id string) (Message, error) {
	var row messageRow
	err := s.db.GetContext(ctx, &row, `SELECT `+messageColumns+` FROM messages WHERE owner = ? AND id = ?;`, owner, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Message{}, ErrNotFound
		}
		return Message{}, fmt.Errorf("get message: %w", err)
	}
	return row.message(), nil
}

func (s *SQLite) Update(ctx context.Context, owner, id string, patch Patch) error {
	if patch.Empty() {
		return nil
	}
	statement, args := updateSQL(questionMark, Filter{Owner: owner}, []string{id}, patch)
	result, err := s.db.ExecContext(ctx, statement, args...)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	return requireAffected(result)
}

func (s *SQLite) UpdateWhere(ctx context.Context, filter Filter, patch Patch) (int64, error) {
	if patch.Empty() {
		return 0, nil
	}
	statement, args := updateSQL(questionMark, filter, nil, patch)
	result, err := s.db.ExecContext(ctx, statement, args...)
	if err != nil {
		return 0, fmt.Errorf("update messages: %w", err)
	}
	return result.RowsAffected()
}

func (s *SQLite) Delete(ctx context.Context, owner, id string) error {
	statement, args := deleteSQL(questionMark, Filter{Owner: owner}, []string{id})
	result, err := s.db.ExecContext(ctx, statement, args...)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return requireAffected(result)
}

func (s *SQLite) DeleteIDs(ctx context.Context, owner string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	statement, args := deleteSQL(questionMark, Filter{Owner: owner}, ids)
	result, err := s.db.ExecContext(ctx, statement, args...)
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	return result.RowsAffected()
}

func (s *SQLite) DeleteWhere(ctx context.Context, filter Filter) (int64, error) {
	statement, args := deleteSQL(questionMark, filter, nil)
	result, err := s.db.ExecContext(ctx, statement, args...)
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	return result.RowsAffected()
}

func requireAffected(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

var _ Store = (*SQLite)(nil)
