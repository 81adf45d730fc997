package agentloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"echodesk/cli/internal/logging"
)

type ResponsesAPI interface {
	CreateResponse(ctx context.Context, req CreateResponseRequest) (*CreateResponseResult, error)
}

type LoopRunnerOptions struct {
	MaxIterations int
	// Instructions is sent as the system prompt on every request.
	Instructions string
	Logger       *slog.Logger
}

const defaultMaxIterations = 8

const DefaultInstructions = "You are a desktop assistant. Break multi-step work into a task with ordered steps " +
	"using createTask, report progress with updateStepStatus as each step finishes, and answer briefly."

type LoopRunner struct {
	client  ResponsesAPI
	tools   *ToolRegistry
	options LoopRunnerOptions
	logger  *slog.Logger
}

func NewLoopRunner(client ResponsesAPI, tools *ToolRegistry, options LoopRunnerOptions) *LoopRunner {
	if options.MaxIterations <= 0 {
		options.MaxIterations = defaultMaxIterations
	}
	return &LoopRunner{
		client:  client,
		tools:   tools,
		options: options,
		logger:  logging.OrDiscard(options.Logger).With("module", "agentloop"),
	}
}

// Run sends userPrompt and keeps executing tool calls until the model answers
// with text. Every request re-sends the full conversation (user message,
// function calls and their outputs) instead of relying on previous_response_id,
// which not every provider persists.
func (r *LoopRunner) Run(ctx context.Context, userPrompt string) (string, error) {
	if r == nil || r.client == nil {
		return "", errors.New("loop runner client is required")
	}
	userPrompt = strings.TrimSpace(userPrompt)
	if userPrompt == "" {
		return "", errors.New("prompt is required")
	}
	history := make([]map[string]any, 0, 8)
	history = append(history, buildUserMessageInputItem(userPrompt))

	for i := 0; i < r.options.MaxIterations; i++ {
		req := CreateResponseRequest{
			Instructions: r.options.Instructions,
			Input:        cloneResponseInputItems(history),
			Store:        boolPtr(false),
		}
		if r.tools != nil {
			req.Tools = r.tools.Specs()
		}
		res, err := r.client.CreateResponse(ctx, req)
		if err != nil {
			return "", fmt.Errorf("responses request failed iteration=%d %s: %w", i+1, summarizeCreateResponseRequest(req), err)
		}
		r.logger.Debug("responses result",
			"iteration", i+1,
			"response_id", res.ID,
			"tool_calls", summarizeToolCalls(res.ToolCalls),
			"final_text_len", len(strings.TrimSpace(res.FinalText)),
		)
		if res.HasFinalText() && len(res.ToolCalls) == 0 {
			return res.FinalText, nil
		}
		if len(res.ToolCalls) == 0 {
			return "", fmt.Errorf("responses api returned no output_text and no tool_calls iteration=%d response_id=%q", i+1, res.ID)
		}
		for _, call := range res.ToolCalls {
			callID := strings.TrimSpace(call.CallID)
			if callID == "" {
				return "", fmt.Errorf("responses tool call missing call_id iteration=%d tool=%s", i+1, call.Name)
			}
			out := r.invoke(ctx, call)
			history = append(history, buildReplayFunctionCallInputItem(call), map[string]any{
				"type":    "function_call_output",
				"call_id": callID,
				"output":  out,
			})
		}
	}
	return "", fmt.Errorf("responses loop exceeded max iterations: %d", r.options.MaxIterations)
}

func (r *LoopRunner) invoke(ctx context.Context, call ToolCall) string {
	if r.tools == nil {
		return errorPrefix + "tool registry unavailable"
	}
	args := strings.TrimSpace(string(call.Arguments))
	out := r.tools.Invoke(ctx, call.Name, args)
	if IsErrorOutput(out) {
		r.logger.Info("tool call failed", "tool", call.Name, "call_id", call.CallID, "output", clipForLog(out, 400))
	} else {
		r.logger.Debug("tool call done", "tool", call.Name, "call_id", call.CallID, "output_len", len(out))
	}
	return out
}

func clipForLog(text string, limit int) string {
	text = strings.TrimSpace(text)
	if limit <= 0 || len(text) <= limit {
		return text
	}
	return text[:limit] + "...(truncated)"
}

func boolPtr(v bool) *bool {
	return &v
}

func cloneResponseInputItems(in []map[string]any) []map[string]any {
	return append(make([]map[string]any, 0, len(in)), in...)
}

func buildUserMessageInputItem(text string) map[string]any {
	return map[string]any{
		"type": "message",
		"role": "user",
		"content": []map[string]any{
			{"type": "input_text", "text": strings.TrimSpace(text)},
		},
	}
}

// buildReplayFunctionCallInputItem echoes a model tool call back into the
// next request so its function_call_output has something to attach to.
func buildReplayFunctionCallInputItem(call ToolCall) map[string]any {
	arguments := strings.TrimSpace(string(call.Arguments))
	if arguments == "" {
		arguments = "{}"
	}
	return map[string]any{
		"type":      "function_call",
		"call_id":   strings.TrimSpace(call.CallID),
		"name":      strings.TrimSpace(call.Name),
		"arguments": arguments,
	}
}

// summarizeCreateResponseRequest renders a request for error messages without
// leaking prompt text: store flag, tool count and the item types of the input.
func summarizeCreateResponseRequest(req CreateResponseRequest) string {
	store := "<unset>"
	if req.Store != nil {
		store = fmt.Sprint(*req.Store)
	}
	var input string
	switch v := req.Input.(type) {
	case string:
		input = fmt.Sprintf("text(len=%d)", len(v))
	case []map[string]any:
		kinds := make([]string, 0, len(v))
		for _, item := range v {
			kind := fmt.Sprint(item["type"])
			if callID, ok := item["call_id"].(string); ok && callID != "" {
				kind += "(" + callID + ")"
			}
			kinds = append(kinds, kind)
		}
		input = fmt.Sprintf("items=%d[%s]", len(v), strings.Join(kinds, ","))
	default:
		input = fmt.Sprintf("%T", v)
	}
	return fmt.Sprintf("store=%s tools=%d input=%s", store, len(req.Tools), input)
}

func summarizeToolCalls(calls []ToolCall) string {
	if len(calls) == 0 {
		return "<none>"
	}
	out := make([]string, 0, len(calls))
	for _, call := range calls {
		out = append(out, fmt.Sprintf("%s(%s)", call.Name, call.CallID))
	}
	return strings.Join(out, ",")
}
