// 包 fetch 封装 HTTP 客户端（代理/单次超时/固定间隔重试），用于抓取社区的 JSON 接口。
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"meetups-data-fetcher/internal/logx"
)

// ErrNotJSON 表示响应的 Content-Type 不是 JSON。
var ErrNotJSON = errors.New("response is not JSON")

// Client 为带重试的 HTTP 客户端。
type Client struct {
	http       *http.Client
	timeout    time.Duration
	retries    int
	retryDelay time.Duration
	userAgent  string
}

// Options 为客户端构造参数。
type Options struct {
	ProxyHTTP  string
	ProxyHTTPS string
	Timeout    time.Duration // 单次请求超时，默认 30s
	Retries    int           // 失败后的重试次数，总尝试次数为 Retries+1
	RetryDelay time.Duration // 两次尝试之间的固定等待
	UserAgent  string
}

// StatusError 为非 2xx 响应。
type StatusError struct {
	Code   int
	Status string
	Title  string // HTML 错误页的 <title>，可能为空
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("HTTP %d: %s", e.Code, e.Status)
	if e.Title != "" && e.Title != e.Status {
		msg += " (" + e.Title + ")"
	}
	return msg
}

// New 创建客户端，支持 http/https 代理。
func New(opts Options) (*Client, error) {
	transport := &http.Transport{
		Proxy: func(req *http.Request) (*url.URL, error) {
			if req.URL.Scheme == "https" && opts.ProxyHTTPS != "" {
				return url.Parse(opts.ProxyHTTPS)
			}
			if req.URL.Scheme == "http" && opts.ProxyHTTP != "" {
				return url.Parse(opts.ProxyHTTP)
			}
			return http.ProxyFromEnvironment(req)
		},
		DialContext:         (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConnsPerHost: 4,
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", opts.Retries)
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "mauritius-meetups-data-fetcher/1.0.0"
	}
	return &Client{
		// 超时由每次尝试的 context 控制
		http:       &http.Client{Transport: transport},
		timeout:    opts.Timeout,
		retries:    opts.Retries,
		retryDelay: opts.RetryDelay,
		userAgent:  opts.UserAgent,
	}, nil
}

// GetJSON 请求 url 并解析 JSON，失败时按固定间隔重试，重试耗尽后返回最后一次错误。
// 数字以 json.Number 保留原始文本。
func (c *Client) GetJSON(ctx context.Context, url string) (any, error) {
	var lastErr error
	attempts := c.retries + 1
	for i := 0; i < attempts; i++ {
		v, err := c.getOnce(ctx, url)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		logx.Warnf("第 %d 次请求失败：%s 错误=%v，%s 后重试", i+1, url, err, c.retryDelay)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.retryDelay):
		}
	}
	return nil, lastErr
}

// getOnce 执行单次请求；超时到达时中止进行中的请求。
func (c *Client) getOnce(ctx context.Context, url string) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			Code:   resp.StatusCode,
			Status: statusText(resp),
			Title:  htmlTitle(resp),
		}
	}
	if !isJSON(resp.Header.Get("Content-Type")) {
		return nil, fmt.Errorf("%w (content-type %q)", ErrNotJSON, resp.Header.Get("Content-Type"))
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	// 响应体只能包含一个 JSON 值，截断或拼接了错误页的响应按失败处理
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errors.New("decode json: trailing data")
	}
	return v, nil
}

func statusText(resp *http.Response) string {
	// resp.Status 形如 "500 Internal Server Error"
	if s := strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprint(resp.StatusCode))); s != "" {
		return s
	}
	return http.StatusText(resp.StatusCode)
}

// isJSON 接受 application/json 及 +json 后缀的媒体类型。
func isJSON(ct string) bool {
	if ct == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.Contains(strings.ToLower(ct), "application/json")
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// htmlTitle 提取 HTML 错误页的标题，便于日志定位（网关/反代错误页常见）。
func htmlTitle(resp *http.Response) string {
	mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mt != "text/html" {
		return ""
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil || len(b) == 0 {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(b))
	if err != nil {
		return ""
	}
	return strings.Join(strings.Fields(doc.Find("title").First().Text()), " ")
}
