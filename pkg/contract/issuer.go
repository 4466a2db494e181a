package contract

import "context"

// Issuer: 针对一个候选 ID 发起且仅发起一次外部调用，并对结果分类。
// 约束：
//  1. 不返回 Go error，所有失败都归入 Outcome（Rejected/Failed）；
//  2. 单次调用内不重试；是否重新发起由 Collector 决定；
//  3. 尊重 ctx 取消/超时并及时释放资源；
//  4. 并发安全：Collector 会在多个 goroutine 中同时调用。
type Issuer interface {
	Issue(ctx context.Context, candidate int64) Outcome
}

// Pinger: 可选的连通性探测（启动前的致命检查）。
type Pinger interface {
	Ping(ctx context.Context) error
}
