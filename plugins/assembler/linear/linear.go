package linear

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"fragpuzzle/pkg/contract"
)

// Options: 线性装配配置。
type Options struct {
	// Strict: 要求 Index 恰为 0..n-1；出现缺口即返回 ErrIndexGap。
	Strict bool `json:"strict,omitempty"`
	// Separator: 词间分隔符，默认单个空格。
	Separator *string `json:"separator,omitempty"`
}

type assembler struct {
	strict bool
	sep    string
}

// New 从原样 JSON Options 创建线性装配器。
func New(raw json.RawMessage) (contract.Assembler, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("linear options: %w", err)
		}
	}
	return NewWithOptions(o), nil
}

// NewWithOptions 以结构化选项创建。
func NewWithOptions(o Options) contract.Assembler {
	sep := " "
	if o.Separator != nil {
		sep = *o.Separator
	}
	return &assembler{strict: o.Strict, sep: sep}
}

// Assemble 按 Index 升序排序后以分隔符拼接 Text。
// 不修改入参；两条记录共享同一 Index 即返回 ErrDuplicateIndex。
func (a *assembler) Assemble(ctx context.Context, fragments []contract.Fragment) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	if len(fragments) == 0 {
		return "", nil
	}

	sorted := make([]contract.Fragment, len(fragments))
	copy(sorted, fragments)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	for i := 1; i < len(sorted); i++ {
		if sorted[i].Index == sorted[i-1].Index {
			return "", fmt.Errorf("%w: index %d (id %d, id %d)", contract.ErrDuplicateIndex,
				sorted[i].Index, sorted[i-1].ID, sorted[i].ID)
		}
	}
	if a.strict {
		for i, f := range sorted {
			if f.Index != int64(i) {
				return "", fmt.Errorf("%w: expected index %d, got %d", contract.ErrIndexGap, i, f.Index)
			}
		}
	}

	var b strings.Builder
	for i, f := range sorted {
		if i > 0 {
			b.WriteString(a.sep)
		}
		b.WriteString(f.Text)
	}
	return b.String(), nil
}

var _ contract.Assembler = (*assembler)(nil)
