package config

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON/YAML 均使用 snake_case；未知字段在解析期失败。
type Config struct {
	Client  Client  `json:"client" yaml:"client"`
	Server  Server  `json:"server" yaml:"server"`
	Logging Logging `json:"logging" yaml:"logging"`
}

// Client: 求解端（solve）配置。
type Client struct {
	BaseURL     string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	TimeoutMS   int    `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	Concurrency int    `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
	// StartID: 首个候选 ID；0 有意义，因此使用指针区分“未设置”。
	StartID *int64 `json:"start_id,omitempty" yaml:"start_id,omitempty"`

	// 组件名选择（注册表中的实现名）。
	Issuer    string `json:"issuer,omitempty" yaml:"issuer,omitempty"`
	Assembler string `json:"assembler,omitempty" yaml:"assembler,omitempty"`

	StrictIndex *bool `json:"strict_index,omitempty" yaml:"strict_index,omitempty"`

	// 发起节奏（0 表示不启用）。
	RateRPS   float64 `json:"rate_rps,omitempty" yaml:"rate_rps,omitempty"`
	RateBurst int     `json:"rate_burst,omitempty" yaml:"rate_burst,omitempty"`

	// FailFirst: 故障注入，前 N 次调用直接失败（调试用）。
	FailFirst int `json:"fail_first,omitempty" yaml:"fail_first,omitempty"`
	// DataFile: local issuer 使用的数据文件。
	DataFile string `json:"data_file,omitempty" yaml:"data_file,omitempty"`
	// LocalDelayMinMS/LocalDelayMaxMS: local issuer 模拟的响应延迟（毫秒）。
	LocalDelayMinMS int `json:"local_delay_min_ms,omitempty" yaml:"local_delay_min_ms,omitempty"`
	LocalDelayMaxMS int `json:"local_delay_max_ms,omitempty" yaml:"local_delay_max_ms,omitempty"`
	// ProgressEvery: 每收集 N 个唯一片段打点一次。
	ProgressEvery int `json:"progress_every,omitempty" yaml:"progress_every,omitempty"`
	// Output: 可选，将还原文本写出到该文件。
	Output string `json:"output,omitempty" yaml:"output,omitempty"`
}

// Server: 片段端点（serve）配置。
type Server struct {
	Host          string `json:"host,omitempty" yaml:"host,omitempty"`
	Port          *int   `json:"port,omitempty" yaml:"port,omitempty"`
	DataFile      string `json:"data_file,omitempty" yaml:"data_file,omitempty"`
	DelayMinMS    *int   `json:"delay_min_ms,omitempty" yaml:"delay_min_ms,omitempty"`
	DelayMaxMS    *int   `json:"delay_max_ms,omitempty" yaml:"delay_max_ms,omitempty"`
	ServiceName   string `json:"service_name,omitempty" yaml:"service_name,omitempty"`
	GracePeriodMS int    `json:"grace_period_ms,omitempty" yaml:"grace_period_ms,omitempty"`
}

// Logging: 日志等级与可选的轮转文件目录（为空则写 stderr）。
type Logging struct {
	Level string `json:"level,omitempty" yaml:"level,omitempty"`
	Dir   string `json:"dir,omitempty" yaml:"dir,omitempty"`
}

func ptr[T any](v T) *T { return &v }
