package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"fragpuzzle/internal/collector"
	"fragpuzzle/internal/pipeline"
	"fragpuzzle/internal/rate"
	"fragpuzzle/internal/server"
	"fragpuzzle/pkg/contract"
	"fragpuzzle/pkg/registry"
)

// ValidateClient 对求解端配置做静态校验（范围 + 注册表成员）。
func ValidateClient(c Client) error {
	if c.Concurrency < 1 {
		return errors.New("config: client.concurrency must be >= 1")
	}
	if c.TimeoutMS < 0 {
		return errors.New("config: client.timeout_ms must be >= 0")
	}
	if c.ProgressEvery < 0 {
		return errors.New("config: client.progress_every must be >= 0")
	}
	if c.FailFirst < 0 {
		return errors.New("config: client.fail_first must be >= 0")
	}
	if err := (rate.Limits{RPS: c.RateRPS, Burst: c.RateBurst}).Validate(); err != nil {
		return fmt.Errorf("config: client.rate: %w", err)
	}
	in := effName(c.Issuer, Defaults().Client.Issuer)
	if registry.Issuer[in] == nil {
		return fmt.Errorf("config: issuer %q not registered (have %s)", in, strings.Join(registry.Names(registry.Issuer), ", "))
	}
	switch in {
	case "http":
		if strings.TrimSpace(c.BaseURL) == "" {
			return errors.New("config: client.base_url required for http issuer")
		}
	case "local":
		if strings.TrimSpace(c.DataFile) == "" {
			return errors.New("config: client.data_file required for local issuer")
		}
		if c.LocalDelayMinMS < 0 || c.LocalDelayMaxMS < c.LocalDelayMinMS {
			return fmt.Errorf("config: client local delay range [%d, %d] invalid", c.LocalDelayMinMS, c.LocalDelayMaxMS)
		}
	}
	if an := effName(c.Assembler, Defaults().Client.Assembler); registry.Assembler[an] == nil {
		return fmt.Errorf("config: assembler %q not registered (have %s)", an, strings.Join(registry.Names(registry.Assembler), ", "))
	}
	return nil
}

// ValidateServer 对服务端配置做静态校验。
func ValidateServer(s Server) error {
	if p := deref(s.Port); p < 0 || p > 65535 {
		return fmt.Errorf("config: server.port %d out of range", p)
	}
	if strings.TrimSpace(s.DataFile) == "" {
		return errors.New("config: server.data_file required")
	}
	lo, hi := deref(s.DelayMinMS), deref(s.DelayMaxMS)
	if lo < 0 || hi < lo {
		return fmt.Errorf("config: server delay range [%d, %d] invalid", lo, hi)
	}
	if s.GracePeriodMS < 0 {
		return errors.New("config: server.grace_period_ms must be >= 0")
	}
	return nil
}

// AssembleClient 构造 Components 与 Settings。
// 严格 Options 解析在 registry（工厂）层进行；此处只生成 raw JSON。
func AssembleClient(cfg Config) (pipeline.Components, pipeline.Settings, error) {
	c := cfg.Client
	if err := ValidateClient(c); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	d := Defaults().Client
	in := effName(c.Issuer, d.Issuer)
	an := effName(c.Assembler, d.Assembler)

	var opts any
	switch in {
	case "local":
		opts = map[string]any{
			"data_file":    c.DataFile,
			"timeout_ms":   c.TimeoutMS,
			"delay_min_ms": c.LocalDelayMinMS,
			"delay_max_ms": c.LocalDelayMaxMS,
		}
	default:
		opts = map[string]any{
			"base_url":    c.BaseURL,
			"timeout_ms":  c.TimeoutMS,
			"concurrency": c.Concurrency,
		}
	}
	iss, err := registry.Issuer[in](mustRaw(opts))
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("issuer %s: %w", in, err)
	}
	target := in
	if t, ok := iss.(interface{ Target() string }); ok {
		target = t.Target()
	}
	if c.FailFirst > 0 {
		iss, err = registry.IssuerDecorator["flaky"](iss, mustRaw(map[string]any{"fail_first": c.FailFirst}))
		if err != nil {
			return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("issuer flaky: %w", err)
		}
	}

	asm, err := registry.Assembler[an](mustRaw(map[string]any{"strict": c.StrictIndex != nil && *c.StrictIndex}))
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("assembler %s: %w", an, err)
	}

	comp := pipeline.Components{Issuer: iss, Assembler: asm}
	set := pipeline.Settings{
		Collector: collector.Settings{
			Concurrency: c.Concurrency,
			StartID:     1,
			Gate:        rate.NewGate(rate.Limits{RPS: c.RateRPS, Burst: c.RateBurst}, nil),
		},
		Target: target,
	}
	if c.StartID != nil {
		set.Collector.StartID = *c.StartID
	}

	if out := strings.TrimSpace(c.Output); out != "" {
		w, err := registry.Writer["fs"](mustRaw(map[string]any{"dir": filepath.Dir(out)}))
		if err != nil {
			return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("writer fs: %w", err)
		}
		comp.Writer = w
		set.OutputID = contract.ArtifactID(filepath.Base(out))
	}
	return comp, set, nil
}

// ServerOptions 将 Server 配置映射为 server.Options。
func ServerOptions(cfg Config) (server.Options, error) {
	s := cfg.Server
	if err := ValidateServer(s); err != nil {
		return server.Options{}, err
	}
	return server.Options{
		Addr:        net.JoinHostPort(s.Host, strconv.Itoa(deref(s.Port))),
		DelayMin:    time.Duration(deref(s.DelayMinMS)) * time.Millisecond,
		DelayMax:    time.Duration(deref(s.DelayMaxMS)) * time.Millisecond,
		ServiceName: s.ServiceName,
		GracePeriod: time.Duration(s.GracePeriodMS) * time.Millisecond,
	}, nil
}

func mustRaw(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}

// EffectiveIssuer 返回生效的 issuer 实现名（未设置时取默认）。
func EffectiveIssuer(c Client) string { return effName(c.Issuer, Defaults().Client.Issuer) }
