package local

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"fragpuzzle/internal/store"
	"fragpuzzle/pkg/contract"
)

// Options: 进程内调试配置（无网络）。
type Options struct {
	// DataFile: 数据文件路径（必填，除非直接以 Store 构造）。
	DataFile string `json:"data_file"`
	// DelayMinMS/DelayMaxMS: 模拟端点响应延迟（毫秒），均为 0 时不延迟。
	DelayMinMS int `json:"delay_min_ms,omitempty"`
	DelayMaxMS int `json:"delay_max_ms,omitempty"`
	// TimeoutMS: 单次调用超时（毫秒），0 表示不设上限。
	TimeoutMS int `json:"timeout_ms,omitempty"`
}

// Client 直接查询内存 Store，语义与 HTTP 端点一致：未知 ID 以随机已知记录替换。
type Client struct {
	st       *store.Store
	min, max time.Duration
	timeout  time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

// New 从原样 JSON 选项构造：加载数据文件。
func New(raw json.RawMessage) (*Client, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("local options: %w", err)
		}
	}
	if o.DataFile == "" {
		return nil, fmt.Errorf("local: %w: missing data_file", contract.ErrInvalidInput)
	}
	st, err := store.LoadFile(o.DataFile, nil)
	if err != nil {
		return nil, err
	}
	return NewWithStore(st, o)
}

// NewWithStore 以已加载的 Store 构造。
func NewWithStore(st *store.Store, o Options) (*Client, error) {
	if st == nil {
		return nil, fmt.Errorf("local: %w: nil store", contract.ErrInvalidInput)
	}
	if o.DelayMinMS < 0 || o.DelayMaxMS < o.DelayMinMS {
		return nil, fmt.Errorf("local: %w: delay range [%d,%d]", contract.ErrInvalidInput, o.DelayMinMS, o.DelayMaxMS)
	}
	if o.TimeoutMS < 0 {
		return nil, fmt.Errorf("local: %w: timeout_ms %d", contract.ErrInvalidInput, o.TimeoutMS)
	}
	return &Client{
		st:      st,
		min:     time.Duration(o.DelayMinMS) * time.Millisecond,
		max:     time.Duration(o.DelayMaxMS) * time.Millisecond,
		timeout: time.Duration(o.TimeoutMS) * time.Millisecond,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func (c *Client) delay() time.Duration {
	if c.max <= 0 {
		return 0
	}
	span := int64(c.max - c.min)
	if span <= 0 {
		return c.min
	}
	c.mu.Lock()
	d := c.min + time.Duration(c.rnd.Int63n(span+1))
	c.mu.Unlock()
	return d
}

// Issue 实现 contract.Issuer。
func (c *Client) Issue(ctx context.Context, candidate int64) contract.Outcome {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if d := c.delay(); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return contract.Failure(ctx.Err())
		}
	} else if err := ctx.Err(); err != nil {
		return contract.Failure(err)
	}
	f, _ := c.st.Lookup(candidate)
	return contract.Succeeded(f)
}

// Ping 总是可用。
func (c *Client) Ping(ctx context.Context) error { return ctx.Err() }

// Target 返回描述（用于终端提示）。
func (c *Client) Target() string { return fmt.Sprintf("local(%d)", c.st.Len()) }

var (
	_ contract.Issuer = (*Client)(nil)
	_ contract.Pinger = (*Client)(nil)
)
