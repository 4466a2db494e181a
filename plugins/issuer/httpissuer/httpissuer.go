package httpissuer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fragpuzzle/pkg/contract"
)

// Options: 最小必需配置。
type Options struct {
	BaseURL      string `json:"base_url"`      // 例如 http://localhost:8000
	TimeoutMS    int    `json:"timeout_ms"`    // 单次调用超时（毫秒），默认 1000
	Concurrency  int    `json:"concurrency"`   // 用于连接池大小，默认 100
	EndpointPath string `json:"endpoint_path"` // 默认 /fragment；可为完整 URL（以 http 开头）
	HealthPath   string `json:"health_path"`   // 默认 /health
}

func (o *Options) defaults() {
	if o.BaseURL == "" {
		o.BaseURL = "http://localhost:8000"
	}
	if o.TimeoutMS <= 0 {
		o.TimeoutMS = 1000
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 100
	}
	if o.EndpointPath == "" {
		o.EndpointPath = "/fragment"
	}
	if o.HealthPath == "" {
		o.HealthPath = "/health"
	}
}

// 连接池在并发度之上的余量。
const idleHeadroom = 16

// Client 通过 HTTP 发起片段请求；并发安全，所有调用共享同一连接池。
type Client struct {
	hc        *http.Client
	url       string
	healthURL string
	timeout   time.Duration
	do        func(*http.Request) (*http.Response, error)
}

// New 从原样 JSON 选项构造客户端。
func New(raw json.RawMessage) (*Client, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("httpissuer options: %w", err)
		}
	}
	return NewWithOptions(opts)
}

// NewWithOptions 以结构化选项构造客户端。
func NewWithOptions(opts Options) (*Client, error) {
	opts.defaults()
	full, err := join(opts.BaseURL, opts.EndpointPath)
	if err != nil {
		return nil, err
	}
	health, err := join(opts.BaseURL, opts.HealthPath)
	if err != nil {
		return nil, err
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.MaxIdleConns = opts.Concurrency + idleHeadroom
	tr.MaxIdleConnsPerHost = opts.Concurrency + idleHeadroom
	// 单次超时由 ctx 控制，Client 不设 Timeout
	hc := &http.Client{Transport: tr}
	return &Client{
		hc:        hc,
		url:       full,
		healthURL: health,
		timeout:   time.Duration(opts.TimeoutMS) * time.Millisecond,
		do:        hc.Do,
	}, nil
}

// join 健壮拼接，确保恰好一个斜杠；path 为完整 URL 时原样使用。
func join(base, path string) (string, error) {
	full := path
	if !(strings.HasPrefix(full, "http://") || strings.HasPrefix(full, "https://")) {
		full = strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
	}
	u, err := url.Parse(full)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("httpissuer: %w: bad url %q", contract.ErrInvalidInput, full)
	}
	return u.String(), nil
}

// upstreamError 承载非 2xx 响应的诊断信息。
type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string {
	return fmt.Sprintf("fragment upstream %d: %s", e.status, e.msg)
}
func (e upstreamError) UpstreamStatus() int     { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }

// wireFragment 区分缺失字段与零值。
type wireFragment struct {
	ID    *int64  `json:"id"`
	Index *int64  `json:"index"`
	Text  *string `json:"text"`
}

// Issue 对一个候选 ID 发起一次 GET，并将结果归类为 Success/Rejected/Failed。
func (c *Client) Issue(ctx context.Context, candidate int64) contract.Outcome {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"?id="+strconv.FormatInt(candidate, 10), nil)
	if err != nil {
		return contract.Failure(fmt.Errorf("new request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req)
	if err != nil {
		if ctx.Err() != nil {
			return contract.Failure(ctx.Err())
		}
		return contract.Failure(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		// 读取少量响应体辅助定位
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		reason := fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		return contract.RejectionWithDetail(strings.TrimSpace(reason), upstreamError{
			status: resp.StatusCode,
			msg:    strings.TrimSpace(string(slurp)),
		})
	}

	var w wireFragment
	if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
		if ctx.Err() != nil {
			return contract.Failure(ctx.Err())
		}
		var ne net.Error
		if errors.As(err, &ne) {
			return contract.Failure(err)
		}
		return contract.Failure(fmt.Errorf("decode: %v: %w", err, contract.ErrResponseInvalid))
	}
	if w.ID == nil || w.Index == nil || w.Text == nil {
		return contract.Failure(fmt.Errorf("incomplete record: %w", contract.ErrResponseInvalid))
	}
	return contract.Succeeded(contract.Fragment{ID: *w.ID, Index: *w.Index, Text: *w.Text})
}

// Ping 探测健康检查端点；非 2xx 或连接失败即返回错误。
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.healthURL, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("health check %s: %w", c.healthURL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("health check %s: %w", c.healthURL, upstreamError{status: resp.StatusCode, msg: http.StatusText(resp.StatusCode)})
	}
	return nil
}

// Target 返回片段端点 URL（用于终端提示）。
func (c *Client) Target() string { return c.url }

// Close 释放空闲连接。
func (c *Client) Close() { c.hc.CloseIdleConnections() }

var (
	_ contract.Issuer = (*Client)(nil)
	_ contract.Pinger = (*Client)(nil)
)
