package testdata

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfgpkg "fragpuzzle/internal/config"
	"fragpuzzle/internal/collector"
	"fragpuzzle/internal/diag"
	"fragpuzzle/internal/pipeline"
	"fragpuzzle/internal/server"
	"fragpuzzle/internal/store"
)

var (
	textPath = filepath.Join("files", "lorem_ipsum.txt")
	dataPath = filepath.Join("files", "lorem_ipsum.json")
)

// expectedText 为原文按空白规整后的结果。
func expectedText(t *testing.T) string {
	t.Helper()
	b, err := os.ReadFile(textPath)
	require.NoError(t, err)
	return strings.Join(strings.Fields(string(b)), " ")
}

// startServer 以零延迟启动片段端点。
func startServer(t *testing.T, data string) *httptest.Server {
	t.Helper()
	srv, err := server.New(server.Options{}, store.NewLazy(data, nil), diag.Nop())
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func baseConfig(url string) cfgpkg.Config {
	cfg := cfgpkg.Defaults()
	cfg.Client.BaseURL = url
	start := int64(0)
	cfg.Client.StartID = &start
	cfg.Logging.Level = "error"
	return cfg
}

func runPipeline(ctx context.Context, t *testing.T, cfg cfgpkg.Config) (pipeline.Report, error) {
	t.Helper()
	comp, set, err := cfgpkg.AssembleClient(cfg)
	require.NoError(t, err)
	if c, ok := comp.Issuer.(interface{ Close() }); ok {
		defer c.Close()
	}
	return pipeline.Run(ctx, comp, set, diag.Nop())
}

func TestE2ESolve(t *testing.T) {
	ts := startServer(t, dataPath)
	rep, err := runPipeline(context.Background(), t, baseConfig(ts.URL))
	require.NoError(t, err)
	assert.Equal(t, expectedText(t), rep.Text)
	assert.Equal(t, collector.StopDuplicate, rep.Result.Stats.StopReason)
	assert.LessOrEqual(t, rep.Result.Stats.MaxInFlight, 100)
}

// 生成的数据文件与仓库样例等价（同一原文）
func TestE2EGenerateThenSolve(t *testing.T) {
	b, err := os.ReadFile(textPath)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "gen.json")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, store.Encode(f, store.Generate(string(b), nil)))
	require.NoError(t, f.Close())

	ts := startServer(t, path)
	cfg := baseConfig(ts.URL)
	cfg.Client.Concurrency = 8
	cfg.Client.Output = filepath.Join(t.TempDir(), "solution.txt")
	rep, err := runPipeline(context.Background(), t, cfg)
	require.NoError(t, err)
	assert.Equal(t, expectedText(t), rep.Text)

	got, err := os.ReadFile(cfg.Client.Output)
	require.NoError(t, err)
	assert.Equal(t, expectedText(t)+"\n", string(got))
}

// 前 K 次调用失败：不停止、不崩溃，继续补足在途直到成功
func TestE2EFirstCallsFail(t *testing.T) {
	ts := startServer(t, dataPath)
	cfg := baseConfig(ts.URL)
	cfg.Client.Concurrency = 1
	cfg.Client.FailFirst = 5
	rep, err := runPipeline(context.Background(), t, cfg)
	require.NoError(t, err)
	st := rep.Result.Stats
	assert.Equal(t, 5, st.Failed)
	assert.Equal(t, collector.StopDuplicate, st.StopReason)
	assert.GreaterOrEqual(t, len(rep.Result.Fragments), len(strings.Fields(expectedText(t)))-5)
}

// 数据文件缺失：每次调用都被拒绝，收集器不会因拒绝而停止，只能由 ctx 结束
func TestE2EDataMissing(t *testing.T) {
	ts := startServer(t, filepath.Join(t.TempDir(), "missing.json"))
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	cfg := baseConfig(ts.URL)
	cfg.Client.Concurrency = 4
	rep, err := runPipeline(ctx, t, cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "err=%v", err)
	assert.Empty(t, rep.Result.Fragments)
	assert.Positive(t, rep.Result.Stats.Rejected)
	assert.Equal(t, collector.StopCancelled, rep.Result.Stats.StopReason)
}

// 数据文件稍后出现：端点无需重启即可恢复
func TestE2EDataAppearsLater(t *testing.T) {
	path := filepath.Join(t.TempDir(), "late.json")
	ts := startServer(t, path)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	_, err := runPipeline(ctx, t, baseConfig(ts.URL))
	cancel()
	require.Error(t, err)

	b, err := os.ReadFile(dataPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o644))

	rep, err := runPipeline(context.Background(), t, baseConfig(ts.URL))
	require.NoError(t, err)
	assert.Equal(t, expectedText(t), rep.Text)
}
