package contract

import "strconv"

// Fragment: 服务端持有的原子拼图片段（不可变）。
// 约束：
// - ID 为服务端随机分配的标识，全局唯一；
// - Index 为原文中的位置（0..n-1）；
// - Text 为原文按空白切分后的单个词元。
// JSON 字段名即线上协议字段名。
type Fragment struct {
	ID    int64  `json:"id"`
	Index int64  `json:"index"`
	Text  string `json:"text"`
}

// Key 返回持久化布局中使用的字符串键（十进制 ID）。
func (f Fragment) Key() string { return strconv.FormatInt(f.ID, 10) }
