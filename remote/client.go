// Package remote is the client of the authoritative board API.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"

	"trelow-offline/domain"
)

const maxErrorBody = 64 * 1024

// ErrPendingID is returned when a call would send a placeholder identifier
// to the server.
var ErrPendingID = errors.New("remote: pending identifier cannot be sent to the server")

// Error is a non-success response from the server.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote: status %d", e.Status)
	}
	return fmt.Sprintf("remote: status %d: %s", e.Status, e.Message)
}

// Client talks to the board API. Reads go through the configured
// http.Client, so an intercepting transport can serve them offline.
type Client struct {
	base  *url.URL
	http  *http.Client
	token string
}

type Option func(*Client)

// WithToken attaches a bearer token to every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client for the API served at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("remote: parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("remote: base url %q must be absolute", baseURL)
	}
	c := &Client{base: u, http: http.DefaultClient}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) ListBoards(ctx context.Context) ([]domain.Board, error) {
	var boards []domain.Board
	err := c.do(ctx, http.MethodGet, "/api/boards", nil, &boards)
	return boards, err
}

// GetBoard returns the board with its columns and their tasks. It asks for a
// revalidated copy, so an intercepting transport only answers from its cache
// when the server cannot be reached.
func (c *Client) GetBoard(ctx context.Context, boardID string) (domain.Board, error) {
	var b domain.Board
	err := c.do(ctx, http.MethodGet, "/api/boards/"+boardID, nil, &b, http.Header{"Cache-Control": {"no-cache"}})
	return b, err
}

func (c *Client) CreateBoard(ctx context.Context, content string) (domain.Board, error) {
	var b domain.Board
	err := c.do(ctx, http.MethodPost, "/api/boards", map[string]string{"content": content}, &b)
	return b, err
}

func (c *Client) DeleteBoard(ctx context.Context, boardID string) error {
	return c.do(ctx, http.MethodDelete, "/api/boards/"+boardID, nil, nil)
}

func (c *Client) ListColumns(ctx context.Context, boardID string) ([]domain.Column, error) {
	var cols []domain.Column
	err := c.do(ctx, http.MethodGet, "/api/boards/"+boardID+"/columns", nil, &cols)
	return cols, err
}

func (c *Client) CreateColumn(ctx context.Context, boardID, title string) (domain.Column, error) {
	var col domain.Column
	err := c.do(ctx, http.MethodPost, "/api/boards/"+boardID+"/columns", map[string]string{"title": title}, &col)
	return col, err
}

func (c *Client) UpdateColumn(ctx context.Context, columnID domain.ID, title string) (domain.Column, error) {
	p, err := idPath("/api/columns/", columnID, "")
	if err != nil {
		return domain.Column{}, err
	}
	var col domain.Column
	err = c.do(ctx, http.MethodPut, p, map[string]string{"title": title}, &col)
	return col, err
}

func (c *Client) DeleteColumn(ctx context.Context, columnID domain.ID) error {
	p, err := idPath("/api/columns/", columnID, "")
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, p, nil, nil)
}

func (c *Client) ListTasks(ctx context.Context, boardID string, columnID domain.ID) ([]domain.Task, error) {
	p, err := idPath("/api/boards/"+boardID+"/columns/", columnID, "/tasks")
	if err != nil {
		return nil, err
	}
	var tasks []domain.Task
	err = c.do(ctx, http.MethodGet, p, nil, &tasks)
	return tasks, err
}

func (c *Client) CreateTask(ctx context.Context, columnID domain.ID, in domain.TaskInput) (domain.Task, error) {
	p, err := idPath("/api/columns/", columnID, "/tasks")
	if err != nil {
		return domain.Task{}, err
	}
	var t domain.Task
	err = c.do(ctx, http.MethodPost, p, in, &t)
	return t, err
}

func (c *Client) UpdateTask(ctx context.Context, taskID domain.ID, in domain.TaskInput) (domain.Task, error) {
	p, err := idPath("/api/tasks/", taskID, "")
	if err != nil {
		return domain.Task{}, err
	}
	var t domain.Task
	err = c.do(ctx, http.MethodPut, p, in, &t)
	return t, err
}

func (c *Client) DeleteTask(ctx context.Context, taskID domain.ID) error {
	p, err := idPath("/api/tasks/", taskID, "")
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, p, nil, nil)
}

// MoveTask reassigns the task to destination and returns the updated task.
func (c *Client) MoveTask(ctx context.Context, taskID, destination domain.ID) (domain.Task, error) {
	if destination.IsPending() {
		return domain.Task{}, ErrPendingID
	}
	p, err := idPath("/api/tasks/", taskID, "/move")
	if err != nil {
		return domain.Task{}, err
	}
	var t domain.Task
	err = c.do(ctx, http.MethodPut, p, map[string]string{"destinationColumnId": destination.Value()}, &t)
	return t, err
}

func idPath(prefix string, id domain.ID, suffix string) (string, error) {
	if id.IsPending() {
		return "", ErrPendingID
	}
	if id.IsZero() {
		return "", errors.New("remote: empty identifier")
	}
	return prefix + id.Value() + suffix, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any, extra ...http.Header) error {
	var body io.Reader
	if in != nil {
		data, err := sonic.Marshal(in)
		if err != nil {
			return fmt.Errorf("remote: encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	u := *c.base
	u.Path = c.base.Path + path
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for _, h := range extra {
		for k, v := range h {
			req.Header[k] = v
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("remote: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	dec := sonic.ConfigStd.NewDecoder(resp.Body)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("remote: decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	msg := strings.TrimSpace(string(data))
	if err := sonic.Unmarshal(data, &payload); err == nil {
		switch {
		case payload.Message != "":
			msg = payload.Message
		case payload.Error != "":
			msg = payload.Error
		}
	}
	return &Error{Status: resp.StatusCode, Message: msg}
}
