package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fragpuzzle/internal/collector"
	"fragpuzzle/internal/diag"
	"fragpuzzle/pkg/contract"
)

// - 启动检查：Issuer 实现 Pinger 时先探测，失败即致命（端点不可达时不进入收集）。
// - 收集：委托 collector.Collect；单次调用失败不上抛。
// - 装配：按 Index 还原文本；可选写出到 Writer。
// - ctx 取消：收集阶段返回的部分结果仍会装配，错误随报告一起返回。

// Components 聚合运行所需的原子组件。
type Components struct {
	Issuer    contract.Issuer
	Assembler contract.Assembler
	// Writer 可选：非空时将还原文本写出到 OutputID。
	Writer contract.Writer
}

// Settings 运行期配置（最小必要）。
type Settings struct {
	Collector collector.Settings
	// OutputID: Writer 的目标工件标识；Writer 为空时忽略。
	OutputID contract.ArtifactID
	// SkipPing: 跳过启动检查。
	SkipPing bool
	// Terminal: 可选的终端进度提示。
	Terminal *diag.Terminal
	// Target: 终端提示中展示的目标描述。
	Target string
}

// Report 为一次运行的汇总。
type Report struct {
	Text     string
	Result   collector.Result
	Duration time.Duration
}

// Run 执行完整流程：(Ping) → Collect → Assemble → (Writer)。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (Report, error) {
	if err := sanity(comp, set); err != nil {
		return Report{}, fmt.Errorf("sanity: %w", err)
	}
	t0 := time.Now()
	term := set.Terminal

	if p, ok := comp.Issuer.(contract.Pinger); ok && !set.SkipPing {
		ptimer := logger.StartWithKV("issuer", "ping", map[string]string{"target": set.Target})
		if err := p.Ping(ctx); err != nil {
			diag.RecordError(logger, "issuer", err, map[string]string{"target": set.Target})
			return Report{}, fmt.Errorf("health check: %w", err)
		}
		ptimer.Finish("ping", 0)
	}

	// 终端进度：包装调用方的 Observer
	cs := set.Collector
	user := cs.Observer
	stopped := false
	cs.Observer = func(s collector.Snapshot) {
		term.Progress(s.Collected, s.InFlight, s.Failed)
		if s.Stopping && !stopped {
			stopped = true
			if s.StopReason == collector.StopDuplicate {
				term.Stopping(s.FirstDuplicate, s.InFlight)
			}
		}
		if user != nil {
			user(s)
		}
	}
	term.RunStart(cs.Concurrency, set.Target)

	res, cerr := collector.Collect(ctx, comp.Issuer, cs, logger)
	rep := Report{Result: res}
	if cerr != nil && !isInterrupt(cerr) {
		term.RunFinish(false, len(res.Fragments), time.Since(t0))
		return rep, fmt.Errorf("collect: %w", cerr)
	}

	atimer := logger.Start("assembler", "assemble")
	text, aerr := comp.Assembler.Assemble(context.WithoutCancel(ctx), res.Fragments)
	if aerr != nil {
		diag.RecordError(logger, "assembler", aerr, nil)
		term.RunFinish(false, len(res.Fragments), time.Since(t0))
		return rep, fmt.Errorf("assemble: %w", aerr)
	}
	atimer.Finish("assemble", int64(len(res.Fragments)))
	diag.IncOp("assembler", "finish", "success")
	rep.Text = text

	if comp.Writer != nil && cerr == nil {
		wtimer := logger.StartWithKV("writer", "write", map[string]string{"id": string(set.OutputID)})
		if werr := comp.Writer.Write(ctx, set.OutputID, strings.NewReader(text+"\n")); werr != nil {
			diag.RecordError(logger, "writer", werr, map[string]string{"id": string(set.OutputID)})
			term.RunFinish(false, len(res.Fragments), time.Since(t0))
			return rep, fmt.Errorf("writer write: %w", werr)
		}
		wtimer.Finish("write", int64(len(text)))
		diag.IncOp("writer", "finish", "success")
	}

	rep.Duration = time.Since(t0)
	term.RunFinish(cerr == nil, len(res.Fragments), rep.Duration)
	logger.Info("pipeline", "run summary", map[string]string{
		"unique":      strconv.Itoa(len(res.Fragments)),
		"issued":      strconv.Itoa(res.Stats.Issued),
		"rejected":    strconv.Itoa(res.Stats.Rejected),
		"failed":      strconv.Itoa(res.Stats.Failed),
		"duplicates":  strconv.Itoa(res.Stats.Duplicates),
		"stop_reason": res.Stats.StopReason,
	})
	if cerr != nil {
		return rep, fmt.Errorf("collect: %w", cerr)
	}
	return rep, nil
}

func isInterrupt(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func sanity(comp Components, set Settings) error {
	if comp.Issuer == nil || comp.Assembler == nil {
		return fmt.Errorf("%w: issuer and assembler are required", contract.ErrInvalidInput)
	}
	if comp.Writer != nil && strings.TrimSpace(string(set.OutputID)) == "" {
		return fmt.Errorf("%w: writer set without output id", contract.ErrInvalidInput)
	}
	if set.Collector.Concurrency < 1 {
		return fmt.Errorf("%w: concurrency must be >= 1", contract.ErrInvalidInput)
	}
	return nil
}
