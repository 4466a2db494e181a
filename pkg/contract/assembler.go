package contract

import "context"

// Assembler: 将无序、去重后的 Fragment 集合还原为最终文本。
// 约束：
//  1. 纯函数：同一输入集合多次装配结果一致；
//  2. 不修改入参切片；
//  3. 相同 Index 的两条记录视为前置条件违例，返回 ErrDuplicateIndex。
type Assembler interface {
	Assemble(ctx context.Context, fragments []Fragment) (string, error)
}
