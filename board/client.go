package board

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"taskboard-api/domain"
)

// Client talks to the task API over HTTP.
type Client struct {
	BaseURL string
	Bearer  string
	HTTP    *http.Client
}

// NewClient creates a new Client.
func NewClient(baseURL, bearer string) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), Bearer: bearer, HTTP: &http.Client{}}
}

// APIError is a non-2xx answer that does not map onto a domain error.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

type apiErrorBody struct {
	Error string `json:"error"`
	Field string `json:"field"`
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any, headers ...string) error {
	var rd io.Reader
	if body != nil {
		buf, err := sonic.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &domain.StoreUnavailableError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.StoreUnavailableError{Op: method + " " + path, Err: err}
	}
	if resp.StatusCode >= 300 {
		return decodeAPIError(resp.StatusCode, path, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return sonic.Unmarshal(data, out)
}

// decodeAPIError turns an error response back into the domain error the
// server started from.
func decodeAPIError(status int, path string, data []byte) error {
	var body apiErrorBody
	_ = sonic.Unmarshal(data, &body)
	switch {
	case status == http.StatusNotFound:
		return &domain.NotFoundError{TaskID: taskIDFromPath(path)}
	case status == http.StatusBadRequest && body.Field == "stage":
		return &domain.InvalidStageError{Stage: -1, Reason: body.Error}
	case status == http.StatusBadRequest:
		return &domain.ValidationError{Field: body.Field, Message: body.Error}
	case status >= http.StatusInternalServerError:
		return &domain.StoreUnavailableError{Op: path, Err: &APIError{Status: status, Message: body.Error}}
	default:
		return &APIError{Status: status, Message: body.Error}
	}
}

func taskIDFromPath(path string) string {
	rest, ok := strings.CutPrefix(path, "/api/tasks/")
	if !ok {
		return ""
	}
	id, _, _ := strings.Cut(rest, "/")
	id, err := url.PathUnescape(id)
	if err != nil {
		return ""
	}
	return id
}

func taskPath(id string, suffix string) string {
	return "/api/tasks/" + url.PathEscape(id) + suffix
}

type fieldsBody struct {
	Name     string `json:"name"`
	Priority string `json:"priority,omitempty"`
	Deadline string `json:"deadline"`
}

func newFieldsBody(f domain.TaskFields) fieldsBody {
	return fieldsBody{Name: f.Name, Priority: string(f.Priority), Deadline: f.Deadline}
}

// ListTasks fetches the caller's board.
func (c *Client) ListTasks(ctx context.Context) ([]domain.Task, error) {
	var out []domain.Task
	err := c.do(ctx, http.MethodGet, "/api/tasks", nil, &out)
	return out, err
}

// Summary fetches the caller's task counts.
func (c *Client) Summary(ctx context.Context) (domain.Summary, error) {
	var out domain.Summary
	err := c.do(ctx, http.MethodGet, "/api/tasks/summary", nil, &out)
	return out, err
}

// CreateTask creates a task. Every call carries a fresh Idempotency-Key.
func (c *Client) CreateTask(ctx context.Context, f domain.TaskFields) (domain.Task, error) {
	var out domain.Task
	err := c.do(ctx, http.MethodPost, "/api/tasks", newFieldsBody(f), &out, "Idempotency-Key", uuid.NewString())
	return out, err
}

// UpdateTask replaces the content fields of a task.
func (c *Client) UpdateTask(ctx context.Context, id string, f domain.TaskFields) (domain.Task, error) {
	var out domain.Task
	err := c.do(ctx, http.MethodPut, taskPath(id, ""), newFieldsBody(f), &out)
	return out, err
}

// DeleteTask removes a task.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, taskPath(id, ""), nil, nil)
}

// MoveTask moves a task to the end of stage.
func (c *Client) MoveTask(ctx context.Context, id string, stage domain.Stage) (domain.Task, error) {
	var out domain.Task
	err := c.do(ctx, http.MethodPatch, taskPath(id, ""), map[string]int{"stage": int(stage)}, &out)
	return out, err
}

// AdvanceTask moves a task one stage forward or backward.
func (c *Client) AdvanceTask(ctx context.Context, id string, dir domain.Direction) (domain.Task, error) {
	var out domain.Task
	err := c.do(ctx, http.MethodPost, taskPath(id, "/advance"), map[string]string{"direction": string(dir)}, &out)
	return out, err
}

// ReorderTask moves a task within its stage. source is the index the caller
// last saw the task at.
func (c *Client) ReorderTask(ctx context.Context, id string, stage domain.Stage, source, dest int) (domain.Task, error) {
	var out domain.Task
	body := map[string]int{"stage": int(stage), "sourceIndex": source, "destinationIndex": dest}
	err := c.do(ctx, http.MethodPost, taskPath(id, "/reorder"), body, &out)
	return out, err
}
