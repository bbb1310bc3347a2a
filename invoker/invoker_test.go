package invoker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mohitkumar/stepflow/action"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPToolInvoker(t *testing.T) {
	var got toolRequest
	var path, auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success": false, "error": "mailbox full"}`))
	}))
	defer srv.Close()

	inv := NewHTTPToolInvoker(srv.URL+"/", "secret", time.Second)
	res, err := inv.Invoke(context.Background(), action.ToolCall{
		Tool:   "mail",
		Action: "send",
		Args:   map[string]any{"to": "a@example.com"},
		Caller: action.CallerContext{RunId: "r1", UserId: "u1"},
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "mailbox full", res.Error)
	assert.Equal(t, "/tools/mail/send", path)
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, "a@example.com", got.Args["to"])
	assert.Equal(t, "r1", got.Caller.RunId)
}

func TestHTTPToolInvokerErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "tool not registered", http.StatusNotFound)
	}))
	defer srv.Close()

	inv := NewHTTPToolInvoker(srv.URL, "", time.Second)
	_, err := inv.Invoke(context.Background(), action.ToolCall{Tool: "x", Action: "y"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "tool not registered")
}

func TestChatCompletionInvoker(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": "billing"}}]}`))
	}))
	defer srv.Close()

	inv := NewChatCompletionInvoker(srv.URL+"/v1", "key", "small-model", time.Second)
	text, err := inv.Complete(context.Background(), "categorize this", "")
	require.NoError(t, err)
	assert.Equal(t, "billing", text)
	assert.Equal(t, "small-model", got.Model)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "categorize this", got.Messages[0].Content)

	_, err = inv.Complete(context.Background(), "again", "large-model")
	require.NoError(t, err)
	assert.Equal(t, "large-model", got.Model)
}

func TestChatCompletionInvokerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": []}`))
	}))
	defer srv.Close()

	_, err := NewChatCompletionInvoker(srv.URL, "", "m", time.Second).Complete(context.Background(), "p", "")
	assert.EqualError(t, err, "completion returned no choices")

	_, err = NewChatCompletionInvoker(srv.URL, "", "", time.Second).Complete(context.Background(), "p", "")
	assert.Error(t, err)
}
