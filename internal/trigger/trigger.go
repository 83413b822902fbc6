// 包 trigger 通过 GitHub repository dispatch 接口远程触发数据抓取工作流。
package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultAPIURL    = "https://api.github.com"
	DefaultRepo      = "MrSunshyne/mauritius-meetups-data"
	DefaultEventType = "fetch-meetup-data"
	userAgent        = "mauritius-meetups-trigger/1.0.0"
	apiVersion       = "2022-11-28"
)

// ErrMissingToken 表示未提供 GITHUB_TOKEN。
var ErrMissingToken = errors.New("GITHUB_TOKEN environment variable is required")

// Options 为触发参数。
type Options struct {
	Token     string
	Repo      string // owner/name
	APIURL    string
	EventType string
	Timeout   time.Duration
}

// Dispatcher 发送 repository dispatch 请求。
type Dispatcher struct {
	opts Options
	http *http.Client
	now  func() time.Time
}

// ResponseError 为非 2xx 响应，Body 为截断后的响应正文。
type ResponseError struct {
	Code   int
	Status string
	Body   string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("dispatch failed: %s: %s", e.Status, e.Body)
}

type payload struct {
	EventType     string        `json:"event_type"`
	ClientPayload clientPayload `json:"client_payload"`
}

type clientPayload struct {
	TriggeredBy string `json:"triggered_by"`
	Timestamp   string `json:"timestamp"`
	Source      string `json:"source"`
	RequestID   string `json:"request_id"`
}

// New 校验参数并创建 Dispatcher；token 为空时返回 ErrMissingToken。
func New(opts Options) (*Dispatcher, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, ErrMissingToken
	}
	if opts.Repo == "" {
		opts.Repo = DefaultRepo
	}
	if strings.Count(opts.Repo, "/") != 1 {
		return nil, fmt.Errorf("invalid repository %q, want owner/name", opts.Repo)
	}
	if opts.APIURL == "" {
		opts.APIURL = DefaultAPIURL
	}
	if opts.EventType == "" {
		opts.EventType = DefaultEventType
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Dispatcher{opts: opts, http: &http.Client{Timeout: opts.Timeout}, now: time.Now}, nil
}

// Repo 返回目标仓库。
func (d *Dispatcher) Repo() string { return d.opts.Repo }

// URL 返回 dispatch 接口地址。
func (d *Dispatcher) URL() string {
	return strings.TrimRight(d.opts.APIURL, "/") + "/repos/" + d.opts.Repo + "/dispatches"
}

// Dispatch 发送请求，返回本次的 request_id。
func (d *Dispatcher) Dispatch(ctx context.Context) (string, error) {
	id := uuid.NewString()
	body, err := json.Marshal(payload{
		EventType: d.opts.EventType,
		ClientPayload: clientPayload{
			TriggeredBy: "cli-tool",
			Timestamp:   d.now().UTC().Format(time.RFC3339),
			Source:      "direct-api-call",
			RequestID:   id,
		},
	})
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("Authorization", "Bearer "+d.opts.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-GitHub-Api-Version", apiVersion)

	resp, err := d.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("post %s: %w", d.URL(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return "", &ResponseError{Code: resp.StatusCode, Status: resp.Status, Body: strings.TrimSpace(string(b))}
	}
	return id, nil
}
