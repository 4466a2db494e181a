package registry

import (
	"bytes"
	"encoding/json"
	"sort"

	"fragpuzzle/pkg/contract"
	linear "fragpuzzle/plugins/assembler/linear"
	flaky "fragpuzzle/plugins/issuer/flaky"
	hti "fragpuzzle/plugins/issuer/httpissuer"
	local "fragpuzzle/plugins/issuer/local"
	wfs "fragpuzzle/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewIssuer 工厂签名：接收原样 JSON Options。
type NewIssuer func(raw json.RawMessage) (contract.Issuer, error)

// WrapIssuer 装饰器签名：包装内层 Issuer。
type WrapIssuer func(inner contract.Issuer, raw json.RawMessage) (contract.Issuer, error)

// NewAssembler 工厂签名：接收原样 JSON Options。
type NewAssembler func(raw json.RawMessage) (contract.Assembler, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// Issuer 工厂注册表（显式、零反射）。
var Issuer = map[string]NewIssuer{
	// http: GET {base_url}/fragment?id=<n>
	"http": func(raw json.RawMessage) (contract.Issuer, error) {
		var opts hti.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return hti.NewWithOptions(opts)
	},
	// local: 进程内查询数据文件（无网络）
	"local": func(raw json.RawMessage) (contract.Issuer, error) {
		var opts local.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return local.New(raw)
	},
}

// IssuerDecorator 装饰器注册表。
var IssuerDecorator = map[string]WrapIssuer{
	// flaky: 前 N 次失败的故障注入
	"flaky": func(inner contract.Issuer, raw json.RawMessage) (contract.Issuer, error) {
		var opts flaky.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return flaky.Wrap(inner, opts)
	},
}

// Assembler 工厂注册表。
var Assembler = map[string]NewAssembler{
	// linear: 按 Index 排序后以空格拼接
	"linear": func(raw json.RawMessage) (contract.Assembler, error) {
		var opts linear.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return linear.NewWithOptions(opts), nil
	},
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（原子替换 / 不覆盖可配置）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
}

// Names 返回注册表键（用于配置校验与帮助信息）。
func Names[T any](m map[string]T) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
