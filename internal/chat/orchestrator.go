// Package chat drives a conversation turn: resolve the conversation,
// persist the inbound message, classify it, apply the matching task action
// and return the reply with a bounded window of recent history.
package chat

import (
	"context"
	"fmt"

	"github.com/taskchat/taskchat/internal/classifier"
	"github.com/taskchat/taskchat/internal/models"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// historyLimit bounds the transcript window returned with each reply.
const historyLimit = 10

// newChatTitle is used when the first message of a thread is empty.
const newChatTitle = "New Chat"

// maxTitleRunes caps the conversation title derived from the first message.
const maxTitleRunes = 50

// Fixed dispatch replies.
const (
	NoTasksReply      = "You don't have any tasks yet."
	TaskNotFoundReply = "Task not found."
)

type ConversationStore interface {
	CreateConversation(ctx context.Context, ownerID, title string) (*models.Conversation, error)
	GetConversation(ctx context.Context, id int64) (*models.Conversation, error)
	ListConversations(ctx context.Context, ownerID string) ([]models.Conversation, error)
	AppendMessage(ctx context.Context, convID int64, role, content string) (*models.Message, error)
	RecentMessages(ctx context.Context, convID int64, limit int) ([]models.Message, error)
	TouchConversation(ctx context.Context, id int64) error
}

type TaskStore interface {
	CreateTask(ctx context.Context, ownerID, title, description string) (*models.Task, error)
	ListTasks(ctx context.Context, ownerID string) ([]models.Task, error)
	GetTask(ctx context.Context, id int64) (*models.Task, error)
	UpdateTaskStatus(ctx context.Context, id int64, status string) error
}

// TurnTx is the atomic unit for a turn's back half: the task mutation, the
// assistant message and the conversation touch commit or roll back together.
type TurnTx interface {
	ConversationStore
	TaskStore
	Commit() error
	Rollback() error
}

type Store interface {
	ConversationStore
	TaskStore
	BeginTurn(ctx context.Context) (TurnTx, error)
}

// Greeter produces the opening assistant line for a new conversation.
type Greeter interface {
	Compose(ctx context.Context, ownerID string) string
}

type TurnResult struct {
	Reply          string
	ConversationID int64
	Messages       []models.Message
	ToolResults    []map[string]any
}

type Orchestrator struct {
	store      Store
	classifier classifier.Classifier
	greeter    Greeter
	logger     *zap.Logger
}

func NewOrchestrator(store Store, cls classifier.Classifier, greeter Greeter, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:      store,
		classifier: cls,
		greeter:    greeter,
		logger:     logger,
	}
}

// HandleTurn processes one inbound message for ownerID. When conversationID
// is nil a new conversation is created and greeted; otherwise the existing
// one is resumed, failing with ErrNotFound unless it exists and belongs to
// ownerID.
//
// The inbound message is committed before classification and survives any
// later failure. The assistant reply, task mutation and timestamp update
// commit as one transaction.
func (o *Orchestrator) HandleTurn(ctx context.Context, ownerID, message string, conversationID *int64) (*TurnResult, error) {
	conv, created, err := o.resolveConversation(ctx, ownerID, message, conversationID)
	if err != nil {
		return nil, err
	}

	if created {
		greetingText := o.greeter.Compose(ctx, ownerID)
		if _, err := o.store.AppendMessage(ctx, conv.ID, models.RoleAssistant, greetingText); err != nil {
			return nil, fmt.Errorf("failed to save greeting: %w", err)
		}
	}

	if _, err := o.store.AppendMessage(ctx, conv.ID, models.RoleUser, message); err != nil {
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}

	intent := o.classifier.Classify(ctx, message, ownerID)
	o.logger.Debug("classified message",
		zap.String("action", intent.Action),
		zap.String("ownerID", ownerID),
		zap.Int64("conversationID", conv.ID))

	reply, toolResults, err := o.commitTurn(ctx, conv.ID, ownerID, message, intent)
	if err != nil {
		return nil, err
	}

	recent, err := o.store.RecentMessages(ctx, conv.ID, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent messages: %w", err)
	}

	return &TurnResult{
		Reply:          reply,
		ConversationID: conv.ID,
		Messages:       reverse(recent),
		ToolResults:    toolResults,
	}, nil
}

func (o *Orchestrator) resolveConversation(ctx context.Context, ownerID, message string, conversationID *int64) (*models.Conversation, bool, error) {
	if conversationID != nil {
		conv, err := o.store.GetConversation(ctx, *conversationID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to load conversation: %w", err)
		}
		if conv == nil || conv.OwnerID != ownerID {
			return nil, false, ErrNotFound
		}
		return conv, false, nil
	}

	conv, err := o.store.CreateConversation(ctx, ownerID, titleFor(message))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, true, nil
}

// commitTurn runs dispatch plus outbound persistence inside one transaction.
func (o *Orchestrator) commitTurn(ctx context.Context, convID int64, ownerID, message string, intent models.IntentResult) (string, []map[string]any, error) {
	tx, err := o.store.BeginTurn(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("failed to begin turn: %w", err)
	}

	reply, toolResults, err := o.dispatch(ctx, tx, convID, ownerID, message, intent)
	if err == nil {
		_, err = tx.AppendMessage(ctx, convID, models.RoleAssistant, reply)
	}
	if err == nil {
		err = tx.TouchConversation(ctx, convID)
	}
	if err != nil {
		err = multierr.Append(fmt.Errorf("turn failed: %w", err), tx.Rollback())
		return "", nil, err
	}
	if err := tx.Commit(); err != nil {
		return "", nil, fmt.Errorf("failed to commit turn: %w", err)
	}
	return reply, toolResults, nil
}

// dispatch applies the classified intent against the task store. It never
// fails on an unrecognized or unimplemented action; only store errors
// propagate.
func (o *Orchestrator) dispatch(ctx context.Context, tx TurnTx, convID int64, ownerID, message string, intent models.IntentResult) (string, []map[string]any, error) {
	toolResults := []map[string]any{}

	switch intent.Action {
	case models.ActionAddTask:
		task, err := tx.CreateTask(ctx, ownerID, intent.Title(message), intent.Description())
		if err != nil {
			return "", nil, fmt.Errorf("failed to create task: %w", err)
		}
		reply := fmt.Sprintf("Task '%s' has been added!", task.Title)
		toolResults = append(toolResults, map[string]any{"action": "add_task", "id": task.ID})
		return reply, toolResults, nil

	case models.ActionListTasks:
		tasks, err := tx.ListTasks(ctx, ownerID)
		if err != nil {
			return "", nil, fmt.Errorf("failed to list tasks: %w", err)
		}
		toolResults = append(toolResults, map[string]any{"action": "list", "count": len(tasks)})
		if len(tasks) == 0 {
			return NoTasksReply, toolResults, nil
		}
		reply := "Here are your tasks:"
		for _, task := range tasks {
			reply += fmt.Sprintf("\n- %s", task.Title)
		}
		return reply, toolResults, nil

	case models.ActionCompleteTask:
		id, ok := intent.TaskID()
		if !ok {
			return TaskNotFoundReply, toolResults, nil
		}
		task, err := tx.GetTask(ctx, id)
		if err != nil {
			return "", nil, fmt.Errorf("failed to load task: %w", err)
		}
		// A task belonging to another user reads as not found; no cross-user
		// signal leaks and nothing is mutated.
		if task == nil || task.OwnerID != ownerID {
			return TaskNotFoundReply, toolResults, nil
		}
		if err := tx.UpdateTaskStatus(ctx, task.ID, models.TaskCompleted); err != nil {
			return "", nil, fmt.Errorf("failed to complete task: %w", err)
		}
		return fmt.Sprintf("Task '%s' is now complete!", task.Title), toolResults, nil

	case models.ActionDeleteTask, models.ActionUpdateTask:
		// Classified but not dispatched; the classifier's own text is the
		// whole effect.
		if intent.ResponseText != "" {
			return intent.ResponseText, toolResults, nil
		}
		return fmt.Sprintf("I can't do that yet: %s", message), toolResults, nil

	default:
		return o.freeFormReply(ctx, convID, message), toolResults, nil
	}
}

// freeFormReply handles chat, unknown, error and anything else the
// classifier produced, building context from the transcript so far. History
// is best-effort: a failed read means a contextless reply, not a failed turn.
func (o *Orchestrator) freeFormReply(ctx context.Context, convID int64, message string) string {
	history, err := o.store.RecentMessages(ctx, convID, historyLimit)
	if err != nil {
		o.logger.Warn("failed to load history for reply",
			zap.Error(err),
			zap.Int64("conversationID", convID))
		history = nil
	}
	return o.classifier.FreeFormReply(ctx, message, reverse(history))
}

// Conversations lists the caller's conversations, most recently active first.
func (o *Orchestrator) Conversations(ctx context.Context, ownerID string) ([]models.Conversation, error) {
	return o.store.ListConversations(ctx, ownerID)
}

// Transcript returns up to limit messages of an owned conversation in
// ascending order. ErrNotFound for a missing or unowned conversation.
func (o *Orchestrator) Transcript(ctx context.Context, ownerID string, convID int64, limit int) ([]models.Message, error) {
	conv, err := o.store.GetConversation(ctx, convID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	if conv == nil || conv.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	msgs, err := o.store.RecentMessages(ctx, convID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	return reverse(msgs), nil
}

func titleFor(message string) string {
	if message == "" {
		return newChatTitle
	}
	runes := []rune(message)
	if len(runes) > maxTitleRunes {
		return string(runes[:maxTitleRunes])
	}
	return message
}

func reverse(msgs []models.Message) []models.Message {
	out := make([]models.Message, len(msgs))
	for i, msg := range msgs {
		out[len(msgs)-1-i] = msg
	}
	return out
}
