package classifier

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/taskchat/taskchat/internal/models"
)

// keyword rules, checked in order; the first category with a match wins.
var rules = []struct {
	action   string
	keywords []string
}{
	{models.ActionAddTask, []string{"add", "create", "new"}},
	{models.ActionListTasks, []string{"list", "show", "all"}},
	{models.ActionCompleteTask, []string{"complete", "done", "finish"}},
	{models.ActionDeleteTask, []string{"delete", "remove"}},
}

var ruleResponses = map[string]string{
	models.ActionListTasks:  "Showing all tasks",
	models.ActionDeleteTask: "Deleting a task",
}

// Rules is the fallback strategy used when no remote model credential is
// configured. It is deterministic and makes no external calls.
type Rules struct{}

func NewRules() *Rules {
	return &Rules{}
}

func (r *Rules) Classify(_ context.Context, text, _ string) models.IntentResult {
	lower := strings.ToLower(text)

	for _, rule := range rules {
		for _, kw := range rule.keywords {
			if !strings.Contains(lower, kw) {
				continue
			}
			switch rule.action {
			case models.ActionAddTask:
				return models.IntentResult{
					Action:       models.ActionAddTask,
					Parameters:   map[string]any{"title": text},
					ResponseText: fmt.Sprintf("Adding a new task based on: %s", text),
				}
			case models.ActionCompleteTask:
				params := map[string]any{}
				if id, ok := firstInteger(text); ok {
					params["task_id"] = id
				}
				return models.IntentResult{
					Action:       models.ActionCompleteTask,
					Parameters:   params,
					ResponseText: "Completing a task",
				}
			default:
				return models.IntentResult{
					Action:       rule.action,
					Parameters:   map[string]any{},
					ResponseText: ruleResponses[rule.action],
				}
			}
		}
	}

	return models.IntentResult{
		Action:       models.ActionUnknown,
		Parameters:   map[string]any{},
		ResponseText: fmt.Sprintf("I didn't understand your command: %s. Please try rephrasing.", text),
	}
}

func (r *Rules) FreeFormReply(_ context.Context, text string, _ []models.Message) string {
	return fmt.Sprintf("I can help you manage tasks. Try \"add <task>\", \"list tasks\" or \"complete <id>\". You said: %s", text)
}

// firstInteger pulls the first run of digits out of text, so phrases like
// "complete 42" or "mark task 42 done" resolve to a task id.
func firstInteger(text string) (int64, bool) {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsDigit(r)
	})
	if len(fields) == 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
