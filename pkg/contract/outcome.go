package contract

import "fmt"

// OutcomeKind: 单次请求结果的分类标签。
type OutcomeKind int

const (
	// Success: 2xx 且响应体可解析。
	Success OutcomeKind = iota + 1
	// Rejected: 端点返回非 2xx（正常、可预期的结果）。
	Rejected
	// Failed: 超时、连接错误或响应体损坏。
	Failed
)

func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return "success"
	case Rejected:
		return "rejected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome: 每次尝试调用产出的标记联合体；不持久化，由 Collector 立即消费。
// 每种 Kind 仅对应一个有效载荷：Success→Fragment，Rejected→Reason，Failed→Err。
// Rejected 可选附带 UpstreamError 作为诊断信息。
type Outcome struct {
	Kind     OutcomeKind
	Fragment Fragment
	Reason   string
	Err      error
}

// Succeeded 构造 Success 结果。
func Succeeded(f Fragment) Outcome { return Outcome{Kind: Success, Fragment: f} }

// Rejection 构造 Rejected 结果。
func Rejection(reason string) Outcome { return Outcome{Kind: Rejected, Reason: reason} }

// RejectionWithDetail 构造带上游诊断信息的 Rejected 结果（Err 仅用于日志，不参与分类）。
func RejectionWithDetail(reason string, detail UpstreamError) Outcome {
	o := Outcome{Kind: Rejected, Reason: reason}
	if detail != nil {
		o.Err = detail
	}
	return o
}

// Failure 构造 Failed 结果；err 为 nil 时以 ErrResponseInvalid 占位，保证 Failed 总带错误。
func Failure(err error) Outcome {
	if err == nil {
		err = ErrResponseInvalid
	}
	return Outcome{Kind: Failed, Err: err}
}

// Cause 返回用于分类的错误：Rejected 总是包裹 ErrRejected（含上游诊断信息时一并包裹），
// Failed 返回 Err，Success 返回 nil。
func (o Outcome) Cause() error {
	switch o.Kind {
	case Rejected:
		if o.Err != nil {
			return fmt.Errorf("%w: %s: %w", ErrRejected, o.Reason, o.Err)
		}
		return fmt.Errorf("%w: %s", ErrRejected, o.Reason)
	case Failed:
		return o.Err
	default:
		return nil
	}
}

func (o Outcome) String() string {
	switch o.Kind {
	case Success:
		return fmt.Sprintf("success(id=%d index=%d)", o.Fragment.ID, o.Fragment.Index)
	case Rejected:
		return "rejected(" + o.Reason + ")"
	case Failed:
		if o.Err != nil {
			return "failed(" + o.Err.Error() + ")"
		}
		return "failed"
	default:
		return "unknown"
	}
}
