package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestLoopRunner_UsesResponsesAPIAndToolRoundtrip(t *testing.T) {
	var mu sync.Mutex
	requestBodies := make([]map[string]any, 0, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/responses" {
			t.Errorf("expected /responses path, got %s", r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request body failed: %v", err)
		}
		mu.Lock()
		requestBodies = append(requestBodies, req)
		callCount := len(requestBodies)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if callCount == 1 {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id": "resp_1",
				"output": []map[string]any{
					{
						"type":      "function_call",
						"id":        "fc_1",
						"call_id":   "call_1",
						"name":      "createTask",
						"arguments": `{"title":"Clean desktop","steps":["Scan","Sort"]}`,
					},
				},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "resp_2",
			"output": []map[string]any{
				{
					"type": "message",
					"content": []map[string]any{
						{"type": "output_text", "text": "Task created."},
					},
				},
			},
		})
	}))
	defer srv.Close()

	client := NewResponsesClient(OpenAIConfig{
		BaseURL: srv.URL,
		Model:   "gpt-5-mini",
		APIKey:  "test-key",
	}, http.DefaultClient)
	registry, svc := newTaskRegistry(t)
	runner := NewLoopRunner(client, registry, LoopRunnerOptions{Instructions: DefaultInstructions})

	reply, err := runner.Run(context.Background(), "clean my desktop")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if reply != "Task created." {
		t.Fatalf("unexpected reply: %q", reply)
	}

	page, err := svc.ListTasks(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if page.Total != 1 || page.List[0].Title != "Clean desktop" {
		t.Fatalf("expected tool call to create the task, got %#v", page)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(requestBodies) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(requestBodies))
	}
	if got := requestBodies[0]["model"]; got != "gpt-5-mini" {
		t.Fatalf("expected configured model, got %v", got)
	}
	if tools, _ := requestBodies[0]["tools"].([]any); len(tools) != 7 {
		t.Fatalf("expected 7 tools in request, got %d", len(tools))
	}
	if _, ok := requestBodies[1]["previous_response_id"]; ok {
		t.Fatal("full-context roundtrip must not send previous_response_id")
	}
	input, _ := requestBodies[1]["input"].([]any)
	if len(input) != 3 {
		t.Fatalf("expected user message, replayed call and output, got %d items", len(input))
	}
	output, _ := input[2].(map[string]any)
	if output["type"] != "function_call_output" || output["call_id"] != "call_1" {
		t.Fatalf("unexpected function output item: %#v", output)
	}
	if text, _ := output["output"].(string); !strings.Contains(text, `"title":"Clean desktop"`) {
		t.Fatalf("expected created task JSON in output, got %q", text)
	}
}

type scriptedResponses struct {
	results []*CreateResponseResult
	reqs    []CreateResponseRequest
	err     error
}

func (s *scriptedResponses) CreateResponse(_ context.Context, req CreateResponseRequest) (*CreateResponseResult, error) {
	s.reqs = append(s.reqs, req)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.results) == 0 {
		return &CreateResponseResult{}, nil
	}
	out := s.results[0]
	s.results = s.results[1:]
	return out, nil
}

func TestLoopRunner_ToolErrorsAreFedBackAsStrings(t *testing.T) {
	client := &scriptedResponses{results: []*CreateResponseResult{
		{ID: "r1", ToolCalls: []ToolCall{{CallID: "c1", Name: "getTask", Arguments: json.RawMessage(`{"id":`)}}},
		{ID: "r2", FinalText: "sorry"},
	}}
	registry, _ := newTaskRegistry(t)
	reply, err := NewLoopRunner(client, registry, LoopRunnerOptions{}).Run(context.Background(), "show task")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if reply != "sorry" {
		t.Fatalf("unexpected reply: %q", reply)
	}
	items, _ := client.reqs[1].Input.([]map[string]any)
	if len(items) != 3 {
		t.Fatalf("expected 3 input items, got %d", len(items))
	}
	if out, _ := items[2]["output"].(string); !strings.HasPrefix(out, "Error: ") {
		t.Fatalf("expected error string output, got %q", out)
	}
}

func TestLoopRunner_StopsAtMaxIterations(t *testing.T) {
	call := &CreateResponseResult{ToolCalls: []ToolCall{{CallID: "c", Name: "listTasks"}}}
	client := &scriptedResponses{results: []*CreateResponseResult{call, call, call}}
	registry, _ := newTaskRegistry(t)
	_, err := NewLoopRunner(client, registry, LoopRunnerOptions{MaxIterations: 2}).Run(context.Background(), "loop")
	if err == nil || !strings.Contains(err.Error(), "max iterations") {
		t.Fatalf("expected max iterations error, got %v", err)
	}
	if len(client.reqs) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(client.reqs))
	}
}

func TestLoopRunner_PropagatesClientErrors(t *testing.T) {
	client := &scriptedResponses{err: errors.New("provider down")}
	_, err := NewLoopRunner(client, nil, LoopRunnerOptions{}).Run(context.Background(), "hi")
	if err == nil || !strings.Contains(err.Error(), "provider down") {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestLoopRunner_RejectsEmptyResponseAndPrompt(t *testing.T) {
	client := &scriptedResponses{}
	if _, err := NewLoopRunner(client, nil, LoopRunnerOptions{}).Run(context.Background(), "  "); err == nil {
		t.Fatal("expected empty prompt error")
	}
	if _, err := NewLoopRunner(client, nil, LoopRunnerOptions{}).Run(context.Background(), "hi"); err == nil {
		t.Fatal("expected error for response without text or tool calls")
	}
}

func TestParseResponseResult_CollectsTextAndCalls(t *testing.T) {
	raw := []byte(`{"id":"resp_9","output":[
		{"type":"message","content":[{"type":"output_text","text":"a"},{"type":"output_text","text":"b"}]},
		{"type":"function_call","id":"fc","call_id":"call_9","name":"listTasks","arguments":"{}"}
	]}`)
	res, err := parseResponseResult(raw)
	if err != nil {
		t.Fatalf("parseResponseResult failed: %v", err)
	}
	if res.FinalText != "a\nb" {
		t.Fatalf("unexpected text: %q", res.FinalText)
	}
	if len(res.ToolCalls) != 1 || res.ToolCalls[0].ResponseID != "resp_9" || res.ToolCalls[0].Name != "listTasks" {
		t.Fatalf("unexpected calls: %#v", res.ToolCalls)
	}
}
