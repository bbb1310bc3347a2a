package invoker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mohitkumar/stepflow/action"
	"github.com/mohitkumar/stepflow/logger"
	"go.uber.org/zap"
)

var _ action.ToolInvoker = new(HTTPToolInvoker)

// HTTPToolInvoker calls a tool service at POST {base}/tools/{tool}/{action}.
// The service answers with {success, output, error}; a tool reporting
// failure is not a transport error.
type HTTPToolInvoker struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

type toolRequest struct {
	Args   map[string]any       `json:"args"`
	Caller action.CallerContext `json:"caller"`
}

func NewHTTPToolInvoker(baseURL string, apiKey string, timeout time.Duration) *HTTPToolInvoker {
	return &HTTPToolInvoker{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  newHTTPClient(timeout),
	}
}

func (t *HTTPToolInvoker) Invoke(ctx context.Context, call action.ToolCall) (*action.ToolResult, error) {
	endpoint := fmt.Sprintf("%s/tools/%s/%s", t.baseURL, url.PathEscape(call.Tool), url.PathEscape(call.Action))
	headers := map[string]string{}
	if t.apiKey != "" {
		headers["Authorization"] = "Bearer " + t.apiKey
	}
	var result action.ToolResult
	if err := postJSON(ctx, t.client, endpoint, headers, toolRequest{Args: call.Args, Caller: call.Caller}, &result); err != nil {
		logger.Error("tool call failed", zap.String("tool", call.Tool), zap.String("action", call.Action), zap.String("runId", call.Caller.RunId), zap.Error(err))
		return nil, err
	}
	return &result, nil
}
