package taskpanel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"echodesk/cli/internal/taskstate"
)

// Fetcher returns the most recent task, or nil when there is none.
type Fetcher interface {
	LatestTask(ctx context.Context) (*taskstate.Task, error)
}

type taskLister interface {
	ListTasks(ctx context.Context, page, pageSize int) (taskstate.Page, error)
}

// ServiceFetcher reads the in-process task service.
type ServiceFetcher struct {
	Service taskLister
}

func (f ServiceFetcher) LatestTask(ctx context.Context) (*taskstate.Task, error) {
	if f.Service == nil {
		return nil, errors.New("task service is required")
	}
	page, err := f.Service.ListTasks(ctx, 1, 1)
	if err != nil {
		return nil, err
	}
	if len(page.List) == 0 {
		return nil, nil
	}
	task := page.List[0]
	return &task, nil
}

// HTTPFetcher reads the first page of the local task API.
type HTTPFetcher struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPFetcher(baseURL, token string, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPFetcher{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		client:  client,
	}
}

type listEnvelope struct {
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Data    taskstate.Page `json:"data"`
}

func (f *HTTPFetcher) LatestTask(ctx context.Context) (*taskstate.Task, error) {
	q := url.Values{}
	q.Set("page", "1")
	q.Set("pageSize", "1")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/api/v1/tasks?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read task list: %w", err)
	}
	var env listEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode task list status=%d: %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || env.Status != "SUCCESS" {
		return nil, fmt.Errorf("task list failed status=%d code=%s: %s", resp.StatusCode, env.Status, env.Message)
	}
	if len(env.Data.List) == 0 {
		return nil, nil
	}
	task := env.Data.List[0]
	return &task, nil
}
