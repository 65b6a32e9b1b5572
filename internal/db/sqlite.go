package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/taskchat/taskchat/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    first_name TEXT NOT NULL DEFAULT '',
    last_name TEXT NOT NULL DEFAULT '',
    email TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS conversations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    owner_id TEXT NOT NULL,
    title TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id INTEGER NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (conversation_id) REFERENCES conversations(id)
);

CREATE TABLE IF NOT EXISTS tasks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    owner_id TEXT NOT NULL,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'pending',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);
CREATE INDEX IF NOT EXISTS idx_tasks_owner ON tasks(owner_id);
CREATE INDEX IF NOT EXISTS idx_conversations_owner ON conversations(owner_id);`

// querier is satisfied by both *sql.DB and *sql.Tx so the same statement
// set serves direct calls and turn transactions.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Database struct {
	db *sql.DB
	queries
}

// TurnTx groups the writes of one turn's back half (task mutation,
// assistant message, conversation touch) into a single transaction.
type TurnTx struct {
	tx *sql.Tx
	queries
}

func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Database{db: db, queries: queries{q: db}}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) BeginTurn(ctx context.Context) (*TurnTx, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &TurnTx{tx: tx, queries: queries{q: tx}}, nil
}

func (t *TurnTx) Commit() error   { return t.tx.Commit() }
func (t *TurnTx) Rollback() error { return t.tx.Rollback() }

type queries struct {
	q querier
}

func (s queries) CreateConversation(ctx context.Context, ownerID, title string) (*models.Conversation, error) {
	query := `
        INSERT INTO conversations (owner_id, title, created_at, updated_at)
        VALUES (?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
        RETURNING id, created_at, updated_at`

	conv := &models.Conversation{OwnerID: ownerID, Title: title}
	err := s.q.QueryRowContext(ctx, query, ownerID, title).Scan(&conv.ID, &conv.CreatedAt, &conv.UpdatedAt)
	return conv, err
}

// GetConversation returns (nil, nil) when no row matches.
func (s queries) GetConversation(ctx context.Context, id int64) (*models.Conversation, error) {
	query := `
        SELECT id, owner_id, title, created_at, updated_at
        FROM conversations
        WHERE id = ?`

	var conv models.Conversation
	err := s.q.QueryRowContext(ctx, query, id).Scan(
		&conv.ID, &conv.OwnerID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s queries) AppendMessage(ctx context.Context, convID int64, role, content string) (*models.Message, error) {
	query := `
        INSERT INTO messages (conversation_id, role, content, created_at)
        VALUES (?, ?, ?, CURRENT_TIMESTAMP)
        RETURNING id, created_at`

	msg := &models.Message{ConvID: convID, Role: role, Content: content}
	err := s.q.QueryRowContext(ctx, query, convID, role, content).Scan(&msg.ID, &msg.CreatedAt)
	return msg, err
}

// RecentMessages returns up to limit messages newest-first. Callers wanting
// transcript order reverse the slice.
func (s queries) RecentMessages(ctx context.Context, convID int64, limit int) ([]models.Message, error) {
	query := `
        SELECT id, conversation_id, role, content, created_at
        FROM messages
        WHERE conversation_id = ?
        ORDER BY id DESC
        LIMIT ?`

	rows, err := s.q.QueryContext(ctx, query, convID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.ConvID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s queries) TouchConversation(ctx context.Context, id int64) error {
	_, err := s.q.ExecContext(ctx,
		"UPDATE conversations SET updated_at = CURRENT_TIMESTAMP WHERE id = ?", id)
	return err
}

func (s queries) ListConversations(ctx context.Context, ownerID string) ([]models.Conversation, error) {
	query := `
        SELECT id, owner_id, title, created_at, updated_at
        FROM conversations
        WHERE owner_id = ?
        ORDER BY updated_at DESC`

	rows, err := s.q.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conversations := make([]models.Conversation, 0)
	for rows.Next() {
		var conv models.Conversation
		if err := rows.Scan(&conv.ID, &conv.OwnerID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, err
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

func (s queries) CreateTask(ctx context.Context, ownerID, title, description string) (*models.Task, error) {
	query := `
        INSERT INTO tasks (owner_id, title, description, status, created_at)
        VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
        RETURNING id, created_at`

	task := &models.Task{
		OwnerID:     ownerID,
		Title:       title,
		Description: description,
		Status:      models.TaskPending,
	}
	err := s.q.QueryRowContext(ctx, query, ownerID, title, description, models.TaskPending).
		Scan(&task.ID, &task.CreatedAt)
	return task, err
}

func (s queries) ListTasks(ctx context.Context, ownerID string) ([]models.Task, error) {
	query := `
        SELECT id, owner_id, title, description, status, created_at
        FROM tasks
        WHERE owner_id = ?
        ORDER BY id`

	rows, err := s.q.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := make([]models.Task, 0)
	for rows.Next() {
		var task models.Task
		if err := rows.Scan(&task.ID, &task.OwnerID, &task.Title, &task.Description, &task.Status, &task.CreatedAt); err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// GetTask returns (nil, nil) when no row matches.
func (s queries) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	query := `
        SELECT id, owner_id, title, description, status, created_at
        FROM tasks
        WHERE id = ?`

	var task models.Task
	err := s.q.QueryRowContext(ctx, query, id).Scan(
		&task.ID, &task.OwnerID, &task.Title, &task.Description, &task.Status, &task.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (s queries) UpdateTaskStatus(ctx context.Context, id int64, status string) error {
	_, err := s.q.ExecContext(ctx, "UPDATE tasks SET status = ? WHERE id = ?", status, id)
	return err
}

// GetProfile returns (nil, nil) when the user is unknown.
func (s queries) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	query := `
        SELECT id, name, first_name, last_name, email
        FROM users
        WHERE id = ?`

	var p models.Profile
	err := s.q.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Name, &p.FirstName, &p.LastName, &p.Email)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s queries) SaveProfile(ctx context.Context, p *models.Profile) error {
	query := `
        INSERT INTO users (id, name, first_name, last_name, email)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            name = excluded.name,
            first_name = excluded.first_name,
            last_name = excluded.last_name,
            email = excluded.email`

	_, err := s.q.ExecContext(ctx, query, p.ID, p.Name, p.FirstName, p.LastName, p.Email)
	return err
}
