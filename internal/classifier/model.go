package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/taskchat/taskchat/internal/models"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

const classifyPrompt = `You are an AI assistant that interprets natural language commands for a todo list application.
Based on the user's input, determine the appropriate action to take.

Possible actions:
1. "add_task" - Add a new task
2. "list_tasks" - List all tasks
3. "complete_task" - Mark a task as complete
4. "delete_task" - Delete a task
5. "update_task" - Update a task
6. "unknown" - Command not recognized

For "add_task", extract the task title and any description.
For "complete_task", "delete_task", or "update_task", identify the task ID if specified.
For "update_task", also identify what needs to be updated.

Input: %s

Respond with a single JSON object containing "action", "response_text" and a "parameters" object.`

const generateTimeout = 30 * time.Second

// Model is the remote strategy. Classification calls are capped in size and
// run at low temperature so the structure of the response stays consistent;
// free-form replies run warmer.
type Model struct {
	llm         llms.Model
	logger      *zap.Logger
	maxTokens   int
	temperature float64
	tokenBudget int
	enc         *tiktoken.Tiktoken
}

type ModelConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int     // reply-size cap for classification calls
	Temperature float64 // classification sampling temperature
	TokenBudget int     // prompt budget for history in free-form replies
}

func NewModel(cfg ModelConfig, logger *zap.Logger) (*Model, error) {
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, err
	}

	// cl100k_base covers the chat-model family; without it we fall back to
	// a bytes/4 estimate when trimming history.
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		logger.Warn("token encoding unavailable, using byte estimate", zap.Error(err))
		enc = nil
	}

	return &Model{
		llm:         llm,
		logger:      logger,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		tokenBudget: cfg.TokenBudget,
		enc:         enc,
	}, nil
}

func (m *Model) Classify(ctx context.Context, text, ownerID string) models.IntentResult {
	ctx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	prompt := fmt.Sprintf(classifyPrompt, text)
	completion, err := llms.GenerateFromSinglePrompt(ctx, m.llm, prompt,
		llms.WithMaxTokens(m.maxTokens),
		llms.WithTemperature(m.temperature),
	)
	if err != nil {
		m.logger.Warn("classification call failed",
			zap.Error(err),
			zap.String("ownerID", ownerID))
		return models.IntentResult{
			Action:       models.ActionError,
			Parameters:   map[string]any{},
			ResponseText: fmt.Sprintf("Sorry, I encountered an error processing your request: %v", err),
		}
	}

	var result models.IntentResult
	if err := json.Unmarshal([]byte(extractJSON(completion)), &result); err != nil || result.Action == "" {
		m.logger.Warn("failed to parse classification response",
			zap.Error(err),
			zap.String("raw", completion))
		return models.IntentResult{
			Action:       models.ActionUnknown,
			Parameters:   map[string]any{},
			ResponseText: fmt.Sprintf("I didn't understand your command: %s. Please try rephrasing.", text),
		}
	}
	if result.Parameters == nil {
		result.Parameters = map[string]any{}
	}
	return result
}

func (m *Model) FreeFormReply(ctx context.Context, text string, history []models.Message) string {
	ctx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	var b strings.Builder
	if lines := m.trimHistory(history); len(lines) > 0 {
		b.WriteString("Context:\n")
		for _, line := range lines {
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "User: %s\n\nAssistant:", text)

	completion, err := llms.GenerateFromSinglePrompt(ctx, m.llm, b.String(),
		llms.WithMaxTokens(m.maxTokens),
		llms.WithTemperature(0.7),
	)
	if err != nil {
		m.logger.Warn("free-form generation failed", zap.Error(err))
		return fmt.Sprintf("Sorry, I encountered an error generating a response: %v", err)
	}
	return strings.TrimSpace(completion)
}

// trimHistory renders history as role-labelled lines, dropping the oldest
// entries until the total fits the prompt token budget.
func (m *Model) trimHistory(history []models.Message) []string {
	lines := make([]string, 0, len(history))
	for _, msg := range history {
		lines = append(lines, fmt.Sprintf("%s: %s", msg.Role, msg.Content))
	}
	for len(lines) > 0 && m.countTokens(strings.Join(lines, "\n")) > m.tokenBudget {
		lines = lines[1:]
	}
	return lines
}

func (m *Model) countTokens(text string) int {
	if m.enc == nil {
		return len(text) / 4
	}
	return len(m.enc.Encode(text, nil, nil))
}

// extractJSON strips code fences and surrounding prose, leaving the
// outermost object. Models wrap their output often enough that feeding the
// raw completion to json.Unmarshal is not reliable.
func extractJSON(completion string) string {
	s := strings.TrimSpace(completion)
	if start := strings.Index(s, "{"); start >= 0 {
		if end := strings.LastIndex(s, "}"); end > start {
			return s[start : end+1]
		}
	}
	return s
}
