package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/responses"
)

type OpenAIConfig struct {
	BaseURL string
	Model   string
	APIKey  string
}

// CreateResponseRequest is one Responses API call. Input is either a plain
// prompt string or the replayed conversation as raw input items.
type CreateResponseRequest struct {
	Model              string
	Input              any
	Tools              []ResponseToolSpec
	PreviousResponseID string
	Store              *bool
	Instructions       string
}

type ToolCall struct {
	ID         string
	CallID     string
	ResponseID string
	Name       string
	Arguments  json.RawMessage
}

type CreateResponseResult struct {
	ID        string
	FinalText string
	ToolCalls []ToolCall
}

func (r CreateResponseResult) HasFinalText() bool {
	return strings.TrimSpace(r.FinalText) != ""
}

// ResponsesClient talks to any OpenAI compatible /responses endpoint.
type ResponsesClient struct {
	model   string
	service responses.ResponseService
}

func NewResponsesClient(cfg OpenAIConfig, httpClient *http.Client) *ResponsesClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{option.WithHTTPClient(httpClient)}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		opts = append(opts, option.WithAPIKey(key))
	}
	return &ResponsesClient{
		model:   strings.TrimSpace(cfg.Model),
		service: responses.NewResponseService(opts...),
	}
}

func (c *ResponsesClient) CreateResponse(ctx context.Context, req CreateResponseRequest) (*CreateResponseResult, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}
	// The raw body is decoded by hand so providers that return only a subset
	// of the OpenAI output schema still parse.
	var raw []byte
	if _, err := c.service.New(ctx, params, option.WithResponseBodyInto(&raw)); err != nil {
		return nil, describeProviderError(err, req)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("responses api returned empty body request=%s", summarizeCreateResponseRequest(req))
	}
	return parseResponseResult(raw)
}

func (c *ResponsesClient) buildParams(req CreateResponseRequest) (responses.ResponseNewParams, error) {
	var params responses.ResponseNewParams
	params.Model = c.model
	if model := strings.TrimSpace(req.Model); model != "" {
		params.Model = model
	}
	if req.Store != nil {
		params.Store = param.NewOpt(*req.Store)
	}
	if prev := strings.TrimSpace(req.PreviousResponseID); prev != "" {
		params.PreviousResponseID = param.NewOpt(prev)
	}
	if instructions := strings.TrimSpace(req.Instructions); instructions != "" {
		params.Instructions = param.NewOpt(instructions)
	}

	switch input := req.Input.(type) {
	case nil:
	case string:
		params.Input.OfString = param.NewOpt(input)
	case []map[string]any:
		items := make(responses.ResponseInputParam, 0, len(input))
		for i, item := range input {
			var decoded responses.ResponseInputItemUnionParam
			if err := remarshal(item, &decoded); err != nil {
				return params, fmt.Errorf("input item[%d]: %w", i, err)
			}
			items = append(items, decoded)
		}
		params.Input.OfInputItemList = items
	default:
		return params, fmt.Errorf("unsupported response input type %T", req.Input)
	}

	for i, spec := range req.Tools {
		var tool responses.ToolUnionParam
		if err := remarshal(spec, &tool); err != nil {
			return params, fmt.Errorf("tool[%d] %s: %w", i, spec.Name, err)
		}
		params.Tools = append(params.Tools, tool)
	}
	return params, nil
}

// remarshal converts between our plain maps and the SDK's param unions,
// which only expose JSON as a stable constructor.
func remarshal(in, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func describeProviderError(err error, req CreateResponseRequest) error {
	var apiErr *responses.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("responses request failed request=%s: %w", summarizeCreateResponseRequest(req), err)
	}
	body := strings.TrimSpace(apiErr.RawJSON())
	if body == "" {
		body = strings.TrimSpace(apiErr.Error())
	}
	requestID := ""
	if apiErr.Response != nil {
		for _, key := range []string{"x-request-id", "openai-request-id"} {
			if v := apiErr.Response.Header.Get(key); v != "" {
				requestID = v
				break
			}
		}
	}
	return fmt.Errorf("responses api status %d request_id=%q request=%s response=%s",
		apiErr.StatusCode, requestID, summarizeCreateResponseRequest(req), clipForLog(body, 600))
}

type outputItem struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	ResponseID string `json:"response_id"`
	CallID     string `json:"call_id"`
	Name       string `json:"name"`
	Arguments  string `json:"arguments"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// parseResponseResult collects output_text parts (joined by newlines) and
// function_call items from a raw response body.
func parseResponseResult(raw []byte) (*CreateResponseResult, error) {
	var body struct {
		ID     string       `json:"id"`
		Output []outputItem `json:"output"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decode responses body: %w", err)
	}
	out := &CreateResponseResult{ID: strings.TrimSpace(body.ID)}
	texts := make([]string, 0, 1)
	for _, item := range body.Output {
		switch strings.TrimSpace(item.Type) {
		case "function_call":
			call := ToolCall{
				ID:         strings.TrimSpace(item.ID),
				CallID:     strings.TrimSpace(item.CallID),
				ResponseID: strings.TrimSpace(item.ResponseID),
				Name:       strings.TrimSpace(item.Name),
				Arguments:  json.RawMessage(item.Arguments),
			}
			if call.ResponseID == "" {
				call.ResponseID = out.ID
			}
			out.ToolCalls = append(out.ToolCalls, call)
		default:
			for _, part := range item.Content {
				if part.Type == "output_text" && strings.TrimSpace(part.Text) != "" {
					texts = append(texts, part.Text)
				}
			}
		}
	}
	out.FinalText = strings.Join(texts, "\n")
	return out, nil
}
