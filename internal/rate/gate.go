package rate

import (
	"context"
	"time"

	xrate "golang.org/x/time/rate"

	"fragpuzzle/pkg/contract"
)

// Limits: 发起节奏配置。RPS<=0 表示不启用。
type Limits struct {
	RPS   float64 // 每秒放行次数
	Burst int     // 桶容量；<=0 时取 max(1, ceil(RPS))
}

// Gate: 发起闸门（并发安全）。Collector 在补位时使用：
// 有在途调用时只 Try，不阻塞；无在途调用时才 Wait。
type Gate interface {
	// Try: 非阻塞尝试；额度不足时返回 false。
	Try() bool
	// Wait: 阻塞直到额度可用或 ctx 取消。
	Wait(ctx context.Context) error
}

// Snapshoter: 可选诊断接口。
type Snapshoter interface {
	Tokens() float64
}

// NewGate: 从静态配置构造闸门；未启用时返回 nil（调用方据此跳过节流）。
// clk 为空则使用 time.Now。
func NewGate(lim Limits, clk func() time.Time) Gate {
	if lim.RPS <= 0 {
		return nil
	}
	burst := lim.Burst
	if burst <= 0 {
		burst = int(lim.RPS)
		if float64(burst) < lim.RPS {
			burst++
		}
		if burst < 1 {
			burst = 1
		}
	}
	if clk == nil {
		clk = time.Now
	}
	return &gate{clk: clk, lim: xrate.NewLimiter(xrate.Limit(lim.RPS), burst)}
}

// Validate 校验节流配置。
func (l Limits) Validate() error {
	if l.RPS < 0 || l.Burst < 0 {
		return contract.ErrInvalidInput
	}
	return nil
}

type gate struct {
	clk func() time.Time
	lim *xrate.Limiter
}

func (g *gate) Try() bool { return g.lim.AllowN(g.clk(), 1) }

func (g *gate) Wait(ctx context.Context) error {
	// 快速取消
	if err := ctx.Err(); err != nil {
		return err
	}
	r := g.lim.ReserveN(g.clk(), 1)
	if !r.OK() {
		return contract.ErrInvalidInput
	}
	d := r.DelayFrom(g.clk())
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		r.CancelAt(g.clk())
		return ctx.Err()
	}
}

func (g *gate) Tokens() float64 { return g.lim.TokensAt(g.clk()) }
