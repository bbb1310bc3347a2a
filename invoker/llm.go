package invoker

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/mohitkumar/stepflow/action"
)

var _ action.LLMInvoker = new(ChatCompletionInvoker)

// ChatCompletionInvoker talks to any OpenAI compatible chat completions API.
type ChatCompletionInvoker struct {
	baseURL      string
	apiKey       string
	defaultModel string
	client       *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewChatCompletionInvoker(baseURL string, apiKey string, defaultModel string, timeout time.Duration) *ChatCompletionInvoker {
	return &ChatCompletionInvoker{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		defaultModel: defaultModel,
		client:       newHTTPClient(timeout),
	}
}

func (c *ChatCompletionInvoker) Complete(ctx context.Context, prompt string, model string) (string, error) {
	if model == "" {
		model = c.defaultModel
	}
	if model == "" {
		return "", errors.New("no model given and no default model configured")
	}
	headers := map[string]string{}
	if c.apiKey != "" {
		headers["Authorization"] = "Bearer " + c.apiKey
	}
	req := chatRequest{Model: model, Messages: []chatMessage{{Role: "user", Content: prompt}}}
	var resp chatResponse
	if err := postJSON(ctx, c.client, c.baseURL+"/chat/completions", headers, req, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", errors.New(resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
