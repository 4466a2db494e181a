package flaky

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"

	"fragpuzzle/pkg/contract"
)

// Options 定义可选项。
type Options struct {
	// FailFirst: 前 N 次调用直接失败（不触达内层）。
	FailFirst int `json:"fail_first"`
	// RejectEvery: 之后每第 N 次调用返回 Rejected（0 表示不启用）。
	RejectEvery int `json:"reject_every,omitempty"`
	// LogPath: 调试用日志文件，记录每次调用结果（可选）。
	LogPath string `json:"log_path,omitempty"`
}

// ErrInjected 为注入的网络类失败。
var ErrInjected = injectedError{}

type injectedError struct{}

func (injectedError) Error() string   { return "flaky: injected connection failure" }
func (injectedError) Timeout() bool   { return false }
func (injectedError) Temporary() bool { return true }

// Client 是带状态的故障注入装饰器：
// 前 FailFirst 次调用返回 Failed；
// 之后若启用 RejectEvery，每第 N 次返回 Rejected("503 Service Unavailable")；
// 其余委托给内层 Issuer。
type Client struct {
	inner   contract.Issuer
	opts    Options
	count   atomic.Int64
	logPath string
}

// New 包装内层 Issuer。
func New(inner contract.Issuer, raw json.RawMessage) (*Client, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, err
		}
	}
	return Wrap(inner, o)
}

// Wrap 以结构化选项包装。
func Wrap(inner contract.Issuer, o Options) (*Client, error) {
	if inner == nil {
		return nil, fmt.Errorf("flaky: %w: nil inner issuer", contract.ErrInvalidInput)
	}
	if o.FailFirst < 0 || o.RejectEvery < 0 {
		return nil, fmt.Errorf("flaky: %w: negative option", contract.ErrInvalidInput)
	}
	return &Client{inner: inner, opts: o, logPath: o.LogPath}, nil
}

func (c *Client) log(s string) {
	if c.logPath == "" {
		return
	}
	// 追加写入，忽略错误。
	_ = appendFile(c.logPath, s+"\n")
}

// appendFile 以追加方式写入。
func appendFile(path, s string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(s)
	return err
}

// Issue 实现 contract.Issuer。
func (c *Client) Issue(ctx context.Context, candidate int64) contract.Outcome {
	n := c.count.Add(1)
	if n <= int64(c.opts.FailFirst) {
		c.log(fmt.Sprintf("%d failed", candidate))
		return contract.Failure(ErrInjected)
	}
	if c.opts.RejectEvery > 0 && (n-int64(c.opts.FailFirst))%int64(c.opts.RejectEvery) == 0 {
		c.log(fmt.Sprintf("%d rejected", candidate))
		return contract.Rejection("503 Service Unavailable")
	}
	o := c.inner.Issue(ctx, candidate)
	c.log(fmt.Sprintf("%d %s", candidate, o.Kind))
	return o
}

// Ping 透传给内层（若支持）。
func (c *Client) Ping(ctx context.Context) error {
	if p, ok := c.inner.(contract.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Calls 返回已处理的调用次数。
func (c *Client) Calls() int64 { return c.count.Load() }

var (
	_ contract.Issuer = (*Client)(nil)
	_ contract.Pinger = (*Client)(nil)
)

// Close 释放内层资源（若支持）。
func (c *Client) Close() {
	if cl, ok := c.inner.(interface{ Close() }); ok {
		cl.Close()
	}
}
