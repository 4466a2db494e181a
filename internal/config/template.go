package config

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// 本地端点 + http issuer；所有键都给出（值为安全默认值），便于用户直接修改。
func DefaultTemplateConfig() Config {
	cfg := Defaults()
	cfg.Client.DataFile = "lorem_ipsum.json"
	cfg.Client.Output = "out/solution.txt"
	cfg.Logging.Dir = ""
	return cfg
}

// MarshalTemplate 按目标扩展名编码模板（.yaml/.yml → YAML，其余 → JSON）。
func MarshalTemplate(path string, cfg Config) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		b, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(b, '\n'), nil
	}
}
