// pipeline/errors.go
// 流水线错误分类：调用方按类别分支，不做错误文本匹配
package pipeline

import (
	"errors"
	"fmt"
)

// Kind 错误类别
type Kind int

const (
	// KindValidation 输入校验失败，请求从未离开本进程
	KindValidation Kind = iota
	// KindPreparer 构造服务返回畸形或缺失的交易数据，致命不重试
	KindPreparer
	// KindSigning 必签槽位缺少对应私钥，对所在 chunk/stage 致命
	KindSigning
	// KindRelay 提交失败且重试预算耗尽
	KindRelay
	// KindConfirmation 中继明确报告失败，或确认结果不被接受
	KindConfirmation
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPreparer:
		return "preparer"
	case KindSigning:
		return "signing"
	case KindRelay:
		return "relay"
	case KindConfirmation:
		return "confirmation"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error 带类别的流水线错误
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf 提取错误的流水线类别
func KindOf(err error) (Kind, bool) {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind, true
	}
	return 0, false
}

func validationError(format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Err: fmt.Errorf(format, args...)}
}

// batchError 保留类别，给错误文本加上批次序号（序号从 1 起）
func batchError(batch int, err error) error {
	var perr *Error
	if errors.As(err, &perr) {
		return &Error{Kind: perr.Kind, Err: fmt.Errorf("Batch %d failed: %w", batch, perr.Err)}
	}
	return &Error{Kind: KindRelay, Err: fmt.Errorf("Batch %d failed: %w", batch, err)}
}
