package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	cfgpkg "fragpuzzle/internal/config"
	"fragpuzzle/internal/diag"
)

func (a *app) solveCmd() *cobra.Command {
	var (
		over   cfgpkg.Config
		start  int64
		strict bool
		status bool
		wait   bool
	)
	cmd := &cobra.Command{
		Use:   "solve",
		Short: "Collect every fragment from the endpoint and print the reconstructed text",
		Args:  checkArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := cmd.Flags()
			if f.Changed("start-id") {
				over.Client.StartID = &start
			}
			if f.Changed("strict") {
				over.Client.StrictIndex = &strict
			}
			cfg, err := a.loadConfig(over)
			if err != nil {
				return err
			}
			comp, set, err := cfgpkg.AssembleClient(cfg)
			if err != nil {
				return configErr("装配失败: %w", err)
			}
			if c, ok := comp.Issuer.(interface{ Close() }); ok {
				defer c.Close()
			}
			set.Terminal = diag.NewTerminal(a.stderr, status, cfg.Client.ProgressEvery)

			a.logger.Debug("config", "effective", map[string]string{
				"issuer":      cfgpkg.EffectiveIssuer(cfg.Client),
				"target":      set.Target,
				"concurrency": fmt.Sprint(cfg.Client.Concurrency),
				"timeout_ms":  fmt.Sprint(cfg.Client.TimeoutMS),
			})

			rep, err := pipelineRun(cmd.Context(), comp, set, a.logger)
			if err != nil {
				if errors.Is(err, context.Canceled) && rep.Text != "" {
					fmt.Fprintln(a.stdout, rep.Text)
				}
				return err
			}
			fmt.Fprintln(a.stdout, rep.Text)
			if wait {
				fmt.Fprint(a.stderr, "Press Enter to exit...")
				a.waitEnter(cmd.Context())
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&over.Client.BaseURL, "base-url", "", "端点基址（默认 http://localhost:8000）")
	f.IntVar(&over.Client.Concurrency, "concurrency", 0, "并发上限（默认 100）")
	f.IntVar(&over.Client.TimeoutMS, "timeout-ms", 0, "单次调用超时（毫秒，默认 1000）")
	f.Int64Var(&start, "start-id", 1, "首个候选 ID")
	f.StringVar(&over.Client.Issuer, "issuer", "", "issuer 实现名（http|local）")
	f.StringVar(&over.Client.DataFile, "data", "", "local issuer 的数据文件")
	f.StringVar(&over.Client.Output, "output", "", "可选：将还原文本写入该文件")
	f.IntVar(&over.Client.FailFirst, "fail-first", 0, "故障注入：前 N 次调用失败")
	f.Float64Var(&over.Client.RateRPS, "rate-rps", 0, "发起速率上限（0 不限）")
	f.IntVar(&over.Client.RateBurst, "rate-burst", 0, "速率突发容量")
	f.IntVar(&over.Client.ProgressEvery, "progress-every", 0, "每 N 个唯一片段打点一次")
	f.BoolVar(&strict, "strict", false, "要求 Index 连续（缺口即失败）")
	f.BoolVar(&status, "status", true, "终端进度提示（stderr）")
	f.BoolVar(&wait, "wait", true, "结束后等待回车")
	return cmd
}

// waitEnter 阻塞到读到一行或 ctx 取消（SIGINT/SIGTERM）为止。
// 取消时读协程仍阻塞在 stdin 上，随进程退出回收。
func (a *app) waitEnter(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		_, _ = bufio.NewReader(a.stdin).ReadString('\n')
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		fmt.Fprintln(a.stderr)
	}
}
