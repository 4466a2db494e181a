package diag

import (
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger 为结构化事件日志器：zap JSON 编码，单行输出；
// 事件词汇保持 comp/stage/code/dur_ms/count/kv 不变，便于按组件聚合。
// 所有方法对 nil 接收者安全（nil 即关闭日志）。
type Logger struct {
	corrID string
	z      *zap.Logger
}

// NewLogger 以给定级别构造日志器；sink 为空时写 stderr。
func NewLogger(corrID, level string, sink zapcore.WriteSyncer) *Logger {
	if sink == nil {
		sink = zapcore.Lock(os.Stderr)
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), sink, ParseLevel(level))
	return NewLoggerWithCore(corrID, core)
}

// NewLoggerWithCore 使用外部 core（测试中可接 observer）。
func NewLoggerWithCore(corrID string, core zapcore.Core) *Logger {
	if corrID == "" {
		corrID = NewCorrID()
	}
	return &Logger{corrID: corrID, z: zap.New(core).With(zap.String("corr_id", corrID))}
}

// Nop 返回丢弃全部事件的日志器。
func Nop() *Logger { return &Logger{z: zap.NewNop()} }

// NewCorrID 生成单次运行的关联 ID。
func NewCorrID() string { return uuid.NewString() }

// ParseLevel 将配置中的级别名映射为 zap 级别；未知值按 info 处理。
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     utcTimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
	}
}

func utcTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.UTC().Format(time.RFC3339))
}

// CorrID 返回关联 ID。
func (l *Logger) CorrID() string {
	if l == nil {
		return ""
	}
	return l.corrID
}

// Sync 刷新缓冲。
func (l *Logger) Sync() error {
	if l == nil || l.z == nil {
		return nil
	}
	return l.z.Sync()
}

func (l *Logger) log(lv zapcore.Level, comp, stage, msg string, extra ...zap.Field) {
	if l == nil || l.z == nil {
		return
	}
	ce := l.z.Check(lv, msg)
	if ce == nil {
		return
	}
	fields := make([]zap.Field, 0, len(extra)+2)
	fields = append(fields, zap.String("comp", comp), zap.String("stage", stage))
	fields = append(fields, extra...)
	ce.Write(fields...)
}

func kvField(kv map[string]string) zap.Field {
	if len(kv) == 0 {
		return zap.Skip()
	}
	return zap.Any("kv", kv)
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	return l.StartWithKV(comp, msg, nil)
}

// StartWithKV 记录带键值的 start。
func (l *Logger) StartWithKV(comp, msg string, kv map[string]string) *Timer {
	l.log(zapcore.InfoLevel, comp, "start", msg, kvField(kv))
	return &Timer{l: l, comp: comp, t0: time.Now()}
}

// Info 记录一次性事件（非 start/finish 成对）。
func (l *Logger) Info(comp, msg string, kv map[string]string) {
	l.log(zapcore.InfoLevel, comp, "event", msg, kvField(kv))
}

// Warn 记录告警事件。
func (l *Logger) Warn(comp, msg string, kv map[string]string) {
	l.log(zapcore.WarnLevel, comp, "event", msg, kvField(kv))
}

// Debug 仅在 level=debug 时生效。
func (l *Logger) Debug(comp, msg string, kv map[string]string) {
	l.log(zapcore.DebugLevel, comp, "event", msg, kvField(kv))
}

// Error 记录 error 事件（不采样）。
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	l.ErrorWithKV(comp, code, msg, durSince, nil)
}

// ErrorWithKV 支持附带键值对（例如 HTTP 状态码、上游错误片段）。
func (l *Logger) ErrorWithKV(comp, code, msg string, durSince *time.Time, kv map[string]string) {
	dur := zap.Skip()
	if durSince != nil {
		dur = zap.Int64("dur_ms", time.Since(*durSince).Milliseconds())
	}
	l.log(zapcore.ErrorLevel, comp, "error", msg, zap.String("code", code), dur, kvField(kv))
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l    *Logger
	comp string
	t0   time.Time
}

// Finish 记录 finish；可选 count。同时上报阶段耗时指标。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil {
		return
	}
	d := time.Since(t.t0)
	ObserveDuration(t.comp, "finish", d.Milliseconds())
	t.l.log(zapcore.InfoLevel, t.comp, "finish", msg, zap.Int64("dur_ms", d.Milliseconds()), zap.Int64("count", count))
}
