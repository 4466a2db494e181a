package contract

import "errors"

// 最小错误分类（用于上层策略判定与日志分类）。
var (
	// ErrInvalidInput: 参数/配置非法。
	ErrInvalidInput = errors.New("invalid input")
	// ErrResponseInvalid: 响应体无法解析或缺少必需字段。
	ErrResponseInvalid = errors.New("response invalid")
	// ErrRejected: 端点返回非 2xx。
	ErrRejected = errors.New("rejected")
	// ErrDuplicateIndex: 装配时出现两个相同 Index 的片段。
	ErrDuplicateIndex = errors.New("duplicate index")
	// ErrIndexGap: 严格模式下 Index 不连续。
	ErrIndexGap = errors.New("index gap")
	// ErrDataNotFound: 数据文件不存在。
	ErrDataNotFound = errors.New("data file not found")
	// ErrDataInvalid: 数据文件内容/布局非法。
	ErrDataInvalid = errors.New("data file invalid")
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
)
