package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store is the document store the mailbox runs on. Every read and write is
// scoped to one owner.
type Store interface {
	Close() error
	Ping(ctx context.Context) error
	EnsureSchema(ctx context.Context) error

	// InsertMessages stores all rows or none. Ids and timestamps are assigned
	// here; the stored rows are returned.
	InsertMessages(ctx context.Context, messages ...Message) ([]Message, error)
	List(ctx context.Context, query Query) ([]Message, error)
	Count(ctx context.Context, filter Filter) (int, error)
	Get(ctx context.Context, owner, id string) (Message, error)
	Update(ctx context.Context, owner, id string, patch Patch) error
	UpdateWhere(ctx context.Context, filter Filter, patch Patch) (int64, error)
	Delete(ctx context.Context, owner, id string) error
	DeleteIDs(ctx context.Context, owner string, ids []string) (int64, error)
	DeleteWhere(ctx context.Context, filter Filter) (int64, error)
}

type Options struct {
	Path        string
	DatabaseURL string
}

// Open returns the PostgreSQL backend when a database URL is configured and
// SQLite otherwise.
func Open(ctx context.Context, opts Options) (Store, error) {
	if strings.TrimSpace(opts.DatabaseURL) != "" {
		return OpenPostgres(ctx, opts.DatabaseURL)
	}
	return OpenSQLite(ctx, opts.Path)
}

type messageRow struct {
	ID        string `db:"id"`
	Owner     string `db:"owner"`
	Folder    string `db:"folder"`
	Sender    string `db:"sender"`
	Recipient string `db:"recipient"`
	Subject   string `db:"subject"`
	Content   string `db:"content"`
	Read      bool   `db:"is_read"`
	Starred   bool   `db:"starred"`
	CreatedAt int64  `db:"created_at"`
}

func (r messageRow) message() Message {
	return Message{
		ID:        r.ID,
		To:        r.Recipient,
		From:      r.Sender,
		Subject:   r.Subject,
		Content:   r.Content,
		Folder:    Folder(r.Folder),
		Owner:     r.Owner,
		Read:      r.Read,
		Starred:   r.Starred,
		Timestamp: time.Unix(0, r.CreatedAt),
	}
}

const messageColumns = "id, owner, folder, sender, recipient, subject, content, is_read, starred, created_at"

func prepareInsert(messages []Message, now time.Time) ([]Message, error) {
	prepared := make([]Message, 0, len(messages))
	for _, message := range messages {
		if message.Owner == "" {
			return nil, fmt.Errorf("insert message: owner is required")
		}
		if _, err := ParseFolder(string(message.Folder)); err != nil {
			return nil, fmt.Errorf("insert message: %w", err)
		}
		if message.ID == "" {
			message.ID = uuid.NewString()
		}
		message.Timestamp = now
		prepared = append(prepared, message)
	}
	return prepared, nil
}

// sqlBuilder renders filters for both backends; only the placeholder style
// differs.
type sqlBuilder struct {
	placeholder func(n int) string
	clauses     []string
	args        []any
}

func newBuilder(placeholder func(n int) string) *sqlBuilder {
	return &sqlBuilder{placeholder: placeholder}
}

func questionMark(int) string { return "?" }

func dollar(n int) string { return fmt.Sprintf("$%d", n) }

func (b *sqlBuilder) bind(arg any) string {
	b.args = append(b.args, arg)
	return b.placeholder(len(b.args))
}

func (b *sqlBuilder) where(expr string) {
	b.clauses = append(b.clauses, expr)
}

func (b *sqlBuilder) filter(filter Filter) {
	b.where("owner = " + b.bind(filter.Owner))
	if filter.Folder != "" {
		b.where("folder = " + b.bind(string(filter.Folder)))
	}
	if filter.Starred != nil {
		b.where("starred = " + b.bind(*filter.Starred))
	}
	if filter.Read != nil {
		b.where("is_read = " + b.bind(*filter.Read))
	}
}

func (b *sqlBuilder) after(cursor *Cursor) {
	if cursor == nil {
		return
	}
	stamp := cursor.Timestamp.UnixNano()
	b.where(fmt.Sprintf("(created_at < %s OR (created_at = %s AND id < %s))",
		b.bind(stamp), b.bind(stamp), b.bind(cursor.ID)))
}

func (b *sqlBuilder) whereSQL() string {
	if len(b.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.clauses, " AND ")
}

func (b *sqlBuilder) setSQL(patch Patch) string {
	var sets []string
	if patch.Folder != nil {
		sets = append(sets, "folder = "+b.bind(string(*patch.Folder)))
	}
	if patch.Read != nil {
		sets = append(sets, "is_read = "+b.bind(*patch.Read))
	}
	if patch.Starred != nil {
		sets = append(sets, "starred = "+b.bind(*patch.Starred))
	}
	return strings.Join(sets, ", ")
}

func listSQL(placeholder func(int) string, query Query) (string, []any) {
	b := newBuilder(placeholder)
	b.filter(query.Filter)
	b.after(query.After)
	statement := "SELECT " + messageColumns + " FROM messages" + b.whereSQL() +
		" ORDER BY created_at DESC, id DESC"
	if query.Limit > 0 {
		statement += " LIMIT " + b.bind(query.Limit)
	}
	return statement, b.args
}

func countSQL(placeholder func(int) string, filter Filter) (string, []any) {
	b := newBuilder(placeholder)
	b.filter(filter)
	return "SELECT COUNT(1) FROM messages" + b.whereSQL(), b.args
}

func updateSQL(placeholder func(int) string, filter Filter, ids []string, patch Patch) (string, []any) {
	b := newBuilder(placeholder)
	set := b.setSQL(patch)
	b.filter(filter)
	b.ids(ids)
	return "UPDATE messages SET " + set + b.whereSQL(), b.args
}

func deleteSQL(placeholder func(int) string, filter Filter, ids []string) (string, []any) {
	b := newBuilder(placeholder)
	b.filter(filter)
	b.ids(ids)
	return "DELETE FROM messages" + b.whereSQL(), b.args
}

func (b *sqlBuilder) ids(ids []string) {
	if ids == nil {
		return
	}
	placeholders := make([]string, 0, len(ids))
	for _, id := range ids {
		placeholders = append(placeholders, b.bind(id))
	}
	b.where("id IN (" + strings.Join(placeholders, ", ") + ")")
}
