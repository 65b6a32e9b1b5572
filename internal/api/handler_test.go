package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskchat/taskchat/internal/chat"
	"github.com/taskchat/taskchat/internal/classifier"
	"github.com/taskchat/taskchat/internal/db"
	"github.com/taskchat/taskchat/internal/greeting"
	"github.com/taskchat/taskchat/internal/models"
	"go.uber.org/zap"
)

type turnStore struct {
	*db.Database
}

func (s turnStore) BeginTurn(ctx context.Context) (chat.TurnTx, error) {
	return s.Database.BeginTurn(ctx)
}

func newTestServer(t *testing.T) (*httptest.Server, *db.Database) {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	orch := chat.NewOrchestrator(
		turnStore{database},
		classifier.NewRules(),
		greeting.NewComposer(database),
		zap.NewNop(),
	)
	handler := NewHandler(orch, zap.NewNop(), 10*time.Second)

	mux := http.NewServeMux()
	handler.Register(mux)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, database
}

func postChat(t *testing.T, server *httptest.Server, identity, pathUser string, body any) *http.Response {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, server.URL+"/api/chat/"+pathUser, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if identity != "" {
		req.Header.Set(authHeader, identity)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeChat(t *testing.T, resp *http.Response) ChatResponse {
	t.Helper()
	defer resp.Body.Close()
	var out ChatResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestChatRequiresAuthentication(t *testing.T) {
	server, _ := newTestServer(t)

	resp := postChat(t, server, "", "u1", ChatRequest{Message: "hello"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestChatRejectsIdentityMismatch(t *testing.T) {
	server, database := newTestServer(t)

	resp := postChat(t, server, "u2", "u1", ChatRequest{Message: "add sneaky"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Rejected before any store access: nothing was written for either user.
	for _, owner := range []string{"u1", "u2"} {
		tasks, err := database.ListTasks(context.Background(), owner)
		require.NoError(t, err)
		assert.Empty(t, tasks)
		convs, err := database.ListConversations(context.Background(), owner)
		require.NoError(t, err)
		assert.Empty(t, convs)
	}
}

func TestChatAddTaskFlow(t *testing.T) {
	server, database := newTestServer(t)

	require.NoError(t, database.SaveProfile(context.Background(), &models.Profile{
		ID:        "u1",
		FirstName: "Ana",
		Email:     "a@x.com",
	}))

	resp := postChat(t, server, "u1", "u1", ChatRequest{Message: "add buy milk"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeChat(t, resp)

	assert.Contains(t, out.Response, "add buy milk")
	assert.NotZero(t, out.ConversationID)

	require.Len(t, out.Messages, 3)
	assert.Equal(t, "assistant", out.Messages[0].Role)
	assert.Equal(t, "Hi Ana (a@x.com)", out.Messages[0].Content)
	assert.Equal(t, "user", out.Messages[1].Role)

	require.Len(t, out.ToolResults, 1)
	assert.Equal(t, "add_task", out.ToolResults[0]["action"])

	tasks, err := database.ListTasks(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "add buy milk", tasks[0].Title)
}

func TestChatResumeConversation(t *testing.T) {
	server, _ := newTestServer(t)

	first := decodeChat(t, postChat(t, server, "u1", "u1", ChatRequest{Message: "hello"}))

	resp := postChat(t, server, "u1", "u1", ChatRequest{
		Message:        "list my tasks",
		ConversationID: &first.ConversationID,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeChat(t, resp)

	assert.Equal(t, first.ConversationID, out.ConversationID)
	assert.Equal(t, chat.NoTasksReply, out.Response)
	require.Len(t, out.ToolResults, 1)
	assert.Equal(t, "list", out.ToolResults[0]["action"])
	assert.EqualValues(t, 0, out.ToolResults[0]["count"])
}

func TestChatUnknownConversationIs404(t *testing.T) {
	server, _ := newTestServer(t)

	missing := int64(777)
	resp := postChat(t, server, "u1", "u1", ChatRequest{
		Message:        "hello",
		ConversationID: &missing,
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestChatForeignConversationIs404(t *testing.T) {
	server, _ := newTestServer(t)

	theirs := decodeChat(t, postChat(t, server, "u2", "u2", ChatRequest{Message: "hi"}))

	resp := postChat(t, server, "u1", "u1", ChatRequest{
		Message:        "hello",
		ConversationID: &theirs.ConversationID,
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestChatBadBody(t *testing.T) {
	server, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodPost, server.URL+"/api/chat/u1", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	req.Header.Set(authHeader, "u1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetConversationsAndMessages(t *testing.T) {
	server, _ := newTestServer(t)

	created := decodeChat(t, postChat(t, server, "u1", "u1", ChatRequest{Message: "hello"}))

	req, err := http.NewRequest(http.MethodGet, server.URL+"/api/conversations", nil)
	require.NoError(t, err)
	req.Header.Set(authHeader, "u1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var convs []models.Conversation
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&convs))
	require.Len(t, convs, 1)
	assert.Equal(t, created.ConversationID, convs[0].ID)

	url := fmt.Sprintf("%s/api/messages?conversation_id=%d", server.URL, created.ConversationID)
	req, err = http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Set(authHeader, "u1")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var msgs []models.Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&msgs))
	assert.Len(t, msgs, 3)

	// Another user cannot read the transcript.
	req, err = http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Set(authHeader, "u2")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRequestIDHeaderSet(t *testing.T) {
	server, _ := newTestServer(t)

	resp := postChat(t, server, "u1", "u1", ChatRequest{Message: "hello"})
	defer resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}
