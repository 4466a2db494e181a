package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	cfgpkg "fragpuzzle/internal/config"
	"fragpuzzle/internal/diag"
	"fragpuzzle/internal/pipeline"
)

// 退出码：1 运行期错误；3 配置/装配错误。
const (
	exitRuntime = 1
	exitConfig  = 3
)

var pipelineRun = pipeline.Run

// app 汇总一次进程运行的 IO 与全局旗标；命令之间共享。
type app struct {
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
	environ []string

	cfgPath  string
	logLevel string
	logDir   string

	logger *diag.Logger
	closer io.Closer
}

// exitError 携带退出码。
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func configErr(format string, a ...any) error {
	return &exitError{code: exitConfig, err: fmt.Errorf(format, a...)}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr, os.Environ()))
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, environ []string) int {
	a := &app{stdin: stdin, stdout: stdout, stderr: stderr, environ: environ}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	a.close()
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		fmt.Fprintf(stderr, "错误: %v\n", ee.err)
		return ee.code
	}
	if strings.HasPrefix(err.Error(), "unknown command") {
		fmt.Fprintf(stderr, "错误: %v\n", err)
		return exitConfig
	}
	fmt.Fprintf(stderr, "运行失败: %v\n", err)
	return exitRuntime
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "fragpuzzle",
		Short:         "Shuffled-text puzzle: fragment endpoint and concurrent solver",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &exitError{code: exitConfig, err: err}
	})
	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "配置文件路径（.json/.yaml）；缺省读取 FRAGPUZZLE_CONFIG_FILE")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "日志级别 debug|info|warn|error（覆盖配置）")
	root.PersistentFlags().StringVar(&a.logDir, "log-dir", "", "日志目录；设置后写入轮转文件而非 stderr")

	root.AddCommand(a.serveCmd(), a.solveCmd(), a.generateCmd(), a.initConfigCmd())
	return root
}

// loadConfig 按 Defaults < 文件 < ENV < CLI 合并；over 为命令行覆盖。
func (a *app) loadConfig(over cfgpkg.Config) (cfgpkg.Config, error) {
	cfg := cfgpkg.Defaults()
	path := a.cfgPath
	if path == "" {
		path = lookupEnv(a.environ, cfgpkg.EnvPrefix+"CONFIG_FILE")
	}
	if path != "" {
		base, err := cfgpkg.LoadFile(path)
		if err != nil {
			return cfg, configErr("配置解析失败: %w", err)
		}
		cfg = cfgpkg.Merge(cfg, base)
	}
	envOver, err := cfgpkg.EnvOverlay(a.environ)
	if err != nil {
		return cfg, configErr("环境变量解析失败: %w", err)
	}
	cfg = cfgpkg.Merge(cfg, envOver)

	over.Logging = cfgpkg.Logging{Level: a.logLevel, Dir: a.logDir}
	cfg = cfgpkg.Merge(cfg, over)

	a.initLogger(cfg.Logging)
	return cfg, nil
}

// initLogger 使用最终配置构造 logger；logging.dir 非空时写轮转文件。
func (a *app) initLogger(l cfgpkg.Logging) {
	var sink zapcore.WriteSyncer
	if dir := strings.TrimSpace(l.Dir); dir != "" {
		rf := diag.NewRotatingFile(dir, 0)
		sink = rf
		a.closer = rf
	} else if f, ok := a.stderr.(*os.File); ok {
		sink = zapcore.Lock(f)
	} else {
		sink = zapcore.Lock(zapcore.AddSync(a.stderr))
	}
	a.logger = diag.NewLogger(diag.NewCorrID(), l.Level, sink)
}

func (a *app) close() {
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	if a.closer != nil {
		_ = a.closer.Close()
	}
}

// checkArgs 将位置参数错误归为配置错误。
func checkArgs(v cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := v(cmd, args); err != nil {
			return &exitError{code: exitConfig, err: err}
		}
		return nil
	}
}

func lookupEnv(environ []string, key string) string {
	for _, kv := range environ {
		if v, ok := strings.CutPrefix(kv, key+"="); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
