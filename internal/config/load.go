package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"fragpuzzle/pkg/contract"
)

// EnvPrefix 为环境变量前缀。
const EnvPrefix = "FRAGPUZZLE_"

// Defaults 返回带有安全默认值的 Config 雏形。
func Defaults() Config {
	return Config{
		Client: Client{
			BaseURL:       "http://localhost:8000",
			TimeoutMS:     1000,
			Concurrency:   100,
			StartID:       ptr(int64(1)),
			Issuer:        "http",
			Assembler:     "linear",
			StrictIndex:   ptr(false),
			ProgressEvery: 5,
		},
		Server: Server{
			Host:          "localhost",
			Port:          ptr(8000),
			DataFile:      "lorem_ipsum.json",
			DelayMinMS:    ptr(100),
			DelayMaxMS:    ptr(400),
			ServiceName:   "request_engine",
			GracePeriodMS: 5000,
		},
		Logging: Logging{Level: "info"},
	}
}

// LoadFile 按扩展名选择解码器（.yaml/.yml → YAML，其余 → JSON），严格拒绝未知字段。
func LoadFile(path string) (Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(path, nil)
	default:
		return LoadJSON(path, nil)
	}
}

func open(path string, raw []byte) (io.Reader, func(), error) {
	switch {
	case len(raw) > 0:
		return bytes.NewReader(raw), func() {}, nil
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, err
		}
		return f, func() { _ = f.Close() }, nil
	default:
		return nil, nil, errors.New("no config source provided")
	}
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
func LoadJSON(path string, raw []byte) (Config, error) {
	var cfg Config
	r, done, err := open(path, raw)
	if err != nil {
		return cfg, err
	}
	defer done()
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("config json: %w", err)
	}
	return cfg, nil
}

// LoadYAML 从文件路径或原始 YAML 解析 Config（严格拒绝未知字段）。
func LoadYAML(path string, raw []byte) (Config, error) {
	var cfg Config
	r, done, err := open(path, raw)
	if err != nil {
		return cfg, err
	}
	defer done()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("config yaml: %w", err)
	}
	return cfg, nil
}

// Merge 按优先级合并（后者覆盖前者）。
// 零值/nil 视为未设置；不做深度合并。
func Merge(base, over Config) Config {
	out := base
	// client
	c, o := &out.Client, over.Client
	setStr(&c.BaseURL, o.BaseURL)
	setInt(&c.TimeoutMS, o.TimeoutMS)
	setInt(&c.Concurrency, o.Concurrency)
	if o.StartID != nil {
		c.StartID = ptr(*o.StartID)
	}
	setStr(&c.Issuer, o.Issuer)
	setStr(&c.Assembler, o.Assembler)
	if o.StrictIndex != nil {
		c.StrictIndex = ptr(*o.StrictIndex)
	}
	if o.RateRPS != 0 {
		c.RateRPS = o.RateRPS
	}
	setInt(&c.RateBurst, o.RateBurst)
	setInt(&c.FailFirst, o.FailFirst)
	setStr(&c.DataFile, o.DataFile)
	setInt(&c.LocalDelayMinMS, o.LocalDelayMinMS)
	setInt(&c.LocalDelayMaxMS, o.LocalDelayMaxMS)
	setInt(&c.ProgressEvery, o.ProgressEvery)
	setStr(&c.Output, o.Output)

	// server
	s, so := &out.Server, over.Server
	setStr(&s.Host, so.Host)
	if so.Port != nil {
		s.Port = ptr(*so.Port)
	}
	setStr(&s.DataFile, so.DataFile)
	if so.DelayMinMS != nil {
		s.DelayMinMS = ptr(*so.DelayMinMS)
	}
	if so.DelayMaxMS != nil {
		s.DelayMaxMS = ptr(*so.DelayMaxMS)
	}
	setStr(&s.ServiceName, so.ServiceName)
	setInt(&s.GracePeriodMS, so.GracePeriodMS)

	// logging
	setStr(&out.Logging.Level, over.Logging.Level)
	setStr(&out.Logging.Dir, over.Logging.Dir)
	return out
}

func setStr(dst *string, v string) {
	if t := strings.TrimSpace(v); t != "" {
		*dst = t
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 规则：前缀 FRAGPUZZLE_，键为 <SECTION>_<FIELD> 大写形式，例如 FRAGPUZZLE_CLIENT_CONCURRENCY；
// 未知键忽略；已知键的值无法解析时返回 ErrInvalidInput。
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		key := kv[len(EnvPrefix):eq]
		val := strings.TrimSpace(kv[eq+1:])
		if val == "" {
			continue
		}
		if err := applyEnv(&over, key, val); err != nil {
			return Config{}, fmt.Errorf("%w: env %s%s=%q: %v", contract.ErrInvalidInput, EnvPrefix, key, val, err)
		}
	}
	return over, nil
}

func applyEnv(c *Config, key, val string) error {
	var err error
	atoi := func(dst *int) {
		var n int
		n, err = strconv.Atoi(val)
		*dst = n
	}
	switch key {
	case "CLIENT_BASE_URL":
		c.Client.BaseURL = val
	case "CLIENT_TIMEOUT_MS":
		atoi(&c.Client.TimeoutMS)
	case "CLIENT_CONCURRENCY":
		atoi(&c.Client.Concurrency)
	case "CLIENT_START_ID":
		var n int64
		n, err = strconv.ParseInt(val, 10, 64)
		c.Client.StartID = &n
	case "CLIENT_ISSUER":
		c.Client.Issuer = val
	case "CLIENT_ASSEMBLER":
		c.Client.Assembler = val
	case "CLIENT_STRICT_INDEX":
		var b bool
		b, err = strconv.ParseBool(val)
		c.Client.StrictIndex = &b
	case "CLIENT_RATE_RPS":
		c.Client.RateRPS, err = strconv.ParseFloat(val, 64)
	case "CLIENT_RATE_BURST":
		atoi(&c.Client.RateBurst)
	case "CLIENT_FAIL_FIRST":
		atoi(&c.Client.FailFirst)
	case "CLIENT_DATA_FILE":
		c.Client.DataFile = val
	case "CLIENT_LOCAL_DELAY_MIN_MS":
		atoi(&c.Client.LocalDelayMinMS)
	case "CLIENT_LOCAL_DELAY_MAX_MS":
		atoi(&c.Client.LocalDelayMaxMS)
	case "CLIENT_PROGRESS_EVERY":
		atoi(&c.Client.ProgressEvery)
	case "CLIENT_OUTPUT":
		c.Client.Output = val
	case "SERVER_HOST":
		c.Server.Host = val
	case "SERVER_PORT":
		var n int
		n, err = strconv.Atoi(val)
		c.Server.Port = &n
	case "SERVER_DATA_FILE":
		c.Server.DataFile = val
	case "SERVER_DELAY_MIN_MS":
		var n int
		n, err = strconv.Atoi(val)
		c.Server.DelayMinMS = &n
	case "SERVER_DELAY_MAX_MS":
		var n int
		n, err = strconv.Atoi(val)
		c.Server.DelayMaxMS = &n
	case "SERVER_SERVICE_NAME":
		c.Server.ServiceName = val
	case "SERVER_GRACE_PERIOD_MS":
		atoi(&c.Server.GracePeriodMS)
	case "LOG_LEVEL":
		c.Logging.Level = val
	case "LOG_DIR":
		c.Logging.Dir = val
	default:
		// 非本集合的键忽略
	}
	return err
}
