package models

import (
	"strconv"
	"time"
)

// Message roles. Messages are append-only once written.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Task statuses. The only transition this service performs is
// pending -> completed.
const (
	TaskPending   = "pending"
	TaskCompleted = "completed"
)

// Actions a classified message can resolve to. DeleteTask and UpdateTask
// are recognized by the classifier but have no dispatch effect.
const (
	ActionAddTask      = "add_task"
	ActionListTasks    = "list_tasks"
	ActionCompleteTask = "complete_task"
	ActionDeleteTask   = "delete_task"
	ActionUpdateTask   = "update_task"
	ActionChat         = "chat"
	ActionUnknown      = "unknown"
	ActionError        = "error"
)

type Conversation struct {
	ID        int64     `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Message struct {
	ID        int64     `json:"id"`
	ConvID    int64     `json:"conversation_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type Task struct {
	ID          int64     `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// Profile is the user record consulted for personalized greetings. Any of
// the name fields may be empty; the greeting composer applies a fallback
// chain over them.
type Profile struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email,omitempty"`
}

// IntentResult is the classifier's ephemeral output for one message. It is
// never persisted. ResponseText carries display text for actions the
// dispatcher passes through verbatim (delete_task, update_task) and the
// human-readable reason for error results.
type IntentResult struct {
	Action       string         `json:"action"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	ResponseText string         `json:"response_text,omitempty"`
}

// TaskID extracts the task identifier parameter, tolerating the numeric
// types a JSON decode or a rule match may have produced.
func (r IntentResult) TaskID() (int64, bool) {
	switch v := r.Parameters["task_id"].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case string:
		id, err := strconv.ParseInt(v, 10, 64)
		if err == nil {
			return id, true
		}
	}
	return 0, false
}

// Title returns the task title parameter, or fallback when absent or empty.
func (r IntentResult) Title(fallback string) string {
	if s, ok := r.Parameters["title"].(string); ok && s != "" {
		return s
	}
	return fallback
}

// Description returns the task description parameter if present.
func (r IntentResult) Description() string {
	s, _ := r.Parameters["description"].(string)
	return s
}
