package diag

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"fragpuzzle/pkg/contract"
)

// 日志轮转写入
func TestRotatingFile(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 30)
	_, err := w.Write([]byte("first line that is very long\n"))
	require.NoError(t, err, "写入失败")
	_, err = w.Write([]byte("second\n"))
	require.NoError(t, err, "第二次写入失败")
	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	if len(files) < 2 {
		t.Fatalf("应存在轮转文件, got %d", len(files))
	}
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())
}

// 当前文件名与时间戳文件同时存在
func TestRotatingFileRotateFiles(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 10)
	for i := 0; i < 5; i++ {
		_, err := w.Write([]byte("xxxxxxxxxxxxxxxxxx\n"))
		require.NoError(t, err)
	}
	ents, err := os.ReadDir(dir)
	require.NoError(t, err)
	hasCurrent, hasRotated := false, false
	for _, e := range ents {
		if e.Name() == "fragpuzzle-current.log" {
			hasCurrent = true
		} else if strings.HasPrefix(e.Name(), "fragpuzzle-") && strings.HasSuffix(e.Name(), ".log") {
			hasRotated = true
		}
	}
	assert.True(t, hasCurrent, "current 文件缺失")
	assert.True(t, hasRotated, "轮转文件缺失")
}

// 默认 maxBytes 与 f==nil 时 rotate
func TestRotatingFileDefaultsAndRotateNoOpen(t *testing.T) {
	w := NewRotatingFile(t.TempDir(), 0)
	assert.Equal(t, int64(10*1024*1024), w.maxBytes)
	require.NoError(t, w.rotate())
	require.NoError(t, w.Sync())
}

// zap 日志器接入旋转文件
func TestLoggerWritesToSink(t *testing.T) {
	dir := t.TempDir()
	sink := NewRotatingFile(dir, 0)
	l := NewLogger("corr", "info", sink)
	l.Start("collector", "collect").Finish("collect", 3)
	l.Debug("collector", "filtered", nil)
	require.NoError(t, l.Sync())

	b, err := os.ReadFile(filepath.Join(dir, "fragpuzzle-current.log"))
	require.NoError(t, err)
	out := string(b)
	assert.Contains(t, out, `"corr_id":"corr"`)
	assert.Contains(t, out, `"stage":"finish"`)
	assert.Contains(t, out, `"count":3`)
	assert.NotContains(t, out, "filtered", "info 级别应过滤 debug")
}

// 事件字段形状
func TestLoggerEventFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewLoggerWithCore("c1", core)

	start := time.Now().Add(-5 * time.Millisecond)
	l.ErrorWithKV("issuer", "timeout", "call failed", &start, map[string]string{"candidate": "9"})
	l.Info("collector", "first duplicate", map[string]string{"id": "3"})
	l.Warn("server", "slow", nil)
	l.Debug("issuer", "dbg", nil)

	entries := logs.All()
	require.Len(t, entries, 4)
	e := entries[0].ContextMap()
	assert.Equal(t, "c1", e["corr_id"])
	assert.Equal(t, "issuer", e["comp"])
	assert.Equal(t, "error", e["stage"])
	assert.Equal(t, "timeout", e["code"])
	assert.Contains(t, e, "dur_ms")
	assert.Equal(t, "event", entries[1].ContextMap()["stage"])
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
}

// nil / Nop 日志器均为安全 no-op
func TestLoggerNilSafe(t *testing.T) {
	var l *Logger
	l.Start("a", "b").Finish("x", 0)
	l.Info("a", "b", nil)
	l.Error("a", "b", "c", nil)
	assert.NoError(t, l.Sync())
	assert.Equal(t, "", l.CorrID())

	n := Nop()
	n.Info("a", "b", map[string]string{"k": "v"})
	var tnil *Timer
	tnil.Finish("x", 0)
}

func TestNewLoggerGeneratesCorrID(t *testing.T) {
	core, _ := observer.New(zapcore.InfoLevel)
	l := NewLoggerWithCore("", core)
	assert.Len(t, l.CorrID(), 36)
	assert.NotEqual(t, l.CorrID(), NewCorrID())
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" WARN ":  zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"bogus":   zapcore.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

// 错误分类
func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Code
	}{
		{nil, CodeUnknown},
		{context.Canceled, CodeCancel},
		{fmt.Errorf("wrap: %w", context.DeadlineExceeded), CodeTimeout},
		{contract.ErrResponseInvalid, CodeProtocol},
		{contract.ErrRejected, CodeRejected},
		{contract.ErrDataNotFound, CodeData},
		{contract.ErrDataInvalid, CodeData},
		{contract.ErrDuplicateIndex, CodeInvariant},
		{contract.ErrIndexGap, CodeInvariant},
		{&fs.PathError{Op: "open", Path: "/", Err: errors.New("x")}, CodeIO},
		{&net.DNSError{Err: "x"}, CodeNetwork},
		{&net.DNSError{Err: "x", IsTimeout: true}, CodeTimeout},
		{errors.New("other"), CodeUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.err), "%v", tc.err)
	}
}

// 指标计数
func TestMetrics(t *testing.T) {
	before := testutil.ToFloat64(opTotal.WithLabelValues("t", "finish", "success"))
	IncOp("t", "finish", "success")
	assert.Equal(t, before+1, testutil.ToFloat64(opTotal.WithLabelValues("t", "finish", "success")))

	SetInFlight(7)
	assert.Equal(t, 7.0, testutil.ToFloat64(collectorInFlight))
	SetInFlight(0)

	b := testutil.ToFloat64(collectorOutcomes.WithLabelValues("failed"))
	IncOutcome("failed")
	assert.Equal(t, b+1, testutil.ToFloat64(collectorOutcomes.WithLabelValues("failed")))

	IncHTTP("/fragment", 200)
	assert.GreaterOrEqual(t, testutil.ToFloat64(httpRequests.WithLabelValues("/fragment", "200")), 1.0)
	ObserveDuration("t", "finish", 12)

	eb := testutil.ToFloat64(errorTotal.WithLabelValues("t", "protocol"))
	code := RecordError(Nop(), "t", contract.ErrResponseInvalid, nil)
	assert.Equal(t, CodeProtocol, code)
	assert.Equal(t, eb+1, testutil.ToFloat64(errorTotal.WithLabelValues("t", "protocol")))

	n, err := testutil.GatherAndCount(Registry, "fragpuzzle_collector_inflight")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// 终端（非 TTY）关键节点输出
func TestTerminalNonTTYFlow(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true, 5)
	require.False(t, term.isTTY)
	term.RunStart(100, "http://localhost:8000")
	for i := 1; i <= 11; i++ {
		term.Progress(i, 100, 0)
	}
	term.Stopping(42, 37)
	term.RunFinish(true, 11, 5100*time.Millisecond)

	out := sb.String()
	assert.NotContains(t, out, "\r")
	assert.Contains(t, out, "[run] 并发=100 | 目标=http://localhost:8000")
	assert.Contains(t, out, "[progress] 新片段 #5 |")
	assert.Contains(t, out, "[progress] 新片段 #10 |")
	assert.NotContains(t, out, "#11")
	assert.Contains(t, out, "[stop] 首个重复 ID=42")
	assert.Contains(t, out, "[ok] 唯一片段 11 | 总用时 5.1s")
}

// 同一唯一数重复上报只打点一次（失败合并不会推进唯一数）
func TestTerminalNoDoublePrint(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true, 5)
	term.Progress(5, 3, 0)
	term.Progress(5, 2, 1)
	assert.Equal(t, 1, strings.Count(sb.String(), "#5"))
}

// TTY 节流与清尾
func TestTerminalTTYInlineThrottle(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true, 5)
	term.isTTY = true
	term.Progress(1, 3, 0)
	first := sb.String()
	require.True(t, strings.HasPrefix(first, "\r["), "应以回车覆盖: %q", first)
	term.Progress(2, 3, 0)
	assert.Equal(t, first, sb.String(), "100ms 内应被节流")
	time.Sleep(120 * time.Millisecond)
	term.Progress(3, 3, 0)
	assert.Greater(t, len(sb.String()), len(first))
	term.RunFinish(false, 3, 2200*time.Millisecond)
	final := sb.String()
	idx := strings.LastIndex(final, "[fail]")
	require.Greater(t, idx, 0)
	seg := final[:idx]
	cr := strings.LastIndex(seg, "\r")
	require.GreaterOrEqual(t, cr, 0)
	assert.Contains(t, seg[cr+1:], " ", "清尾应写入空格")
}

type flakyWriter struct{ fail bool }

func (w *flakyWriter) Write(p []byte) (int, error) {
	if w.fail {
		w.fail = false
		return 0, fmt.Errorf("boom")
	}
	return len(p), nil
}

// 写失败降级为禁用态
func TestTerminalDisableOnWriteError(t *testing.T) {
	term := NewTerminal(&flakyWriter{fail: true}, true, 5)
	term.RunStart(1, "x")
	assert.False(t, term.enabled)
	term.Progress(5, 0, 0)
	term.Stopping(1, 0)
	term.RunFinish(true, 0, 0)
}

func TestTerminalNilAndCI(t *testing.T) {
	var tn *Terminal
	tn.RunStart(1, "x")
	tn.Progress(0, 0, 0)
	tn.Stopping(0, 0)
	tn.RunFinish(true, 0, 0)

	t.Setenv("CI", "true")
	term := NewTerminal(os.Stderr, true, 0)
	assert.False(t, term.isTTY)
	assert.Equal(t, 5, term.every)
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "a b c", safe("a\nb\rc"))
	assert.Equal(t, "0ms", formatDur(0))
	assert.Equal(t, "1.5s", formatDur(1500*time.Millisecond))
}
