package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres handles PostgreSQL database operations.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres creates a PostgreSQL store with a connection pool.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Postgres) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			folder TEXT NOT NULL,
			sender TEXT NOT NULL,
			recipient TEXT NOT NULL,
			subject TEXT NOT NULL,
			content TEXT NOT NULL,
			is_read BOOLEAN NOT NULL DEFAULT FALSE,
			starred BOOLEAN NOT NULL DEFAULT FALSE,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_owner_folder_created ON messages(owner, folder, created_at DESC, id DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_owner_starred_created ON messages(owner, starred, created_at DESC, id DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_owner_folder_read ON messages(owner, folder, is_read)`,
	}
	for _, statement := range statements {
		if _, err := s.pool.Exec(ctx, statement); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// InsertMessages writes every row inside one transaction.
func (s *Postgres) InsertMessages(ctx context.Context, messages ...Message) ([]Message, error) {
	prepared, err := prepareInsert(messages, time.Now())
	if err != nil {
		return nil, err
	}

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, message := range prepared {
			_, err := tx.Exec(ctx, `INSERT INTO messages (`+messageColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
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
				return fmt.Errorf("insert message: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return prepared, nil
}

func (s *Postgres) List(ctx context.Context, query Query) ([]Message, error) {
	statement, args := listSQL(dollar, query)
	rows, err := s.pool.Query(ctx, statement, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	collected, err := pgx.CollectRows(rows, pgx.RowToStructByName[messageRow])
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	messages := make([]Message, 0, len(collected))
	for _, row := range collected {
		messages = append(messages, row.message())
	}
	return messages, nil
}

func (s *Postgres) Count(ctx context.Context, filter Filter) (int, error) {
	statement, args := countSQL(dollar, filter)
	var count int64
	if err := s.pool.QueryRow(ctx, statement, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return int(count), nil
}

func (s *Postgres) Get(ctx context.Context, owner, id string) (Message, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+messageColumns+` FROM messages WHERE owner = $1 AND id = $2`, owner, id)
	if err != nil {
		return Message{}, fmt.Errorf("get message: %w", err)
	}
	row, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[messageRow])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrNotFound
		}
		return Message{}, fmt.Errorf("get message: %w", err)
	}
	return row.message(), nil
}

func (s *Postgres) Update(ctx context.Context, owner, id string, patch Patch) error {
	if patch.Empty() {
		return nil
	}
	statement, args := updateSQL(dollar, Filter{Owner: owner}, []string{id}, patch)
	tag, err := s.pool.Exec(ctx, statement, args...)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	return requireTag(tag)
}

func (s *Postgres) UpdateWhere(ctx context.Context, filter Filter, patch Patch) (int64, error) {
	if patch.Empty() {
		return 0, nil
	}
	statement, args := updateSQL(dollar, filter, nil, patch)
	tag, err := s.pool.Exec(ctx, statement, args...)
	if err != nil {
		return 0, fmt.Errorf("update messages: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Postgres) Delete(ctx context.Context, owner, id string) error {
	statement, args := deleteSQL(dollar, Filter{Owner: owner}, []string{id})
	tag, err := s.pool.Exec(ctx, statement, args...)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return requireTag(tag)
}

func (s *Postgres) DeleteIDs(ctx context.Context, owner string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	statement, args := deleteSQL(dollar, Filter{Owner: owner}, ids)
	tag, err := s.pool.Exec(ctx, statement, args...)
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Postgres) DeleteWhere(ctx context.Context, filter Filter) (int64, error) {
	statement, args := deleteSQL(dollar, filter, nil)
	tag, err := s.pool.Exec(ctx, statement, args...)
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	return tag.RowsAffected(), nil
}

func requireTag(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

var _ Store = (*Postgres)(nil)
