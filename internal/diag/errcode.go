package diag

import (
	"context"
	"errors"
	"net"
	"os"

	"fragpuzzle/pkg/contract"
)

// Code 是最小错误分类代码。
// 仅用于日志/指标汇总，与退出码解耦。
type Code string

const (
	CodeUnknown   Code = "unknown"
	CodeNetwork   Code = "network"
	CodeTimeout   Code = "timeout"
	CodeProtocol  Code = "protocol"
	CodeRejected  Code = "rejected"
	CodeInvariant Code = "invariant"
	CodeData      Code = "data"
	CodeCancel    Code = "cancel"
	CodeIO        Code = "io"
)

// Classify 将错误归为最小分类。
// 说明：仅依赖哨兵错误与标准库错误类型，不做字符串匹配。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	// 取消优先；超时单列（单次调用超时是常态）
	if errors.Is(err, context.Canceled) {
		return CodeCancel
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	if errors.Is(err, contract.ErrResponseInvalid) {
		return CodeProtocol
	}
	var ue contract.UpstreamError
	if errors.Is(err, contract.ErrRejected) || errors.As(err, &ue) {
		return CodeRejected
	}
	if errors.Is(err, contract.ErrDataNotFound) || errors.Is(err, contract.ErrDataInvalid) {
		return CodeData
	}
	if errors.Is(err, contract.ErrInvalidInput) ||
		errors.Is(err, contract.ErrDuplicateIndex) ||
		errors.Is(err, contract.ErrIndexGap) ||
		errors.Is(err, contract.ErrPathInvalid) {
		return CodeInvariant
	}
	var perr *os.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		if nerr.Timeout() {
			return CodeTimeout
		}
		return CodeNetwork
	}
	return CodeUnknown
}
